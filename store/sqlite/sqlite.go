/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the engine's persistence interfaces (TxStore, AuditLog,
  SweepRunStore) using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxStore:       Configuration, periods, dues, payments
  generic.AuditLog:      Append-only audit trail
  generic.SweepRunStore: Mora sweep history

KEY TABLES:
  payment_config:   Singleton live configuration (versioned)
  academic_periods: Billing periods
  period_months:    Billing months of a period, with optional price override
  monthly_dues:     One row per (student, period, month, year)
  payments:         Payment attempts with their frozen snapshot columns
  audit_log:        Who did what when
  sweep_runs:       Mora sweep history

INVARIANTS ENFORCED BY THE SCHEMA:
  - idx_dues_key: a student has at most one due per period month
  - idx_payments_one_active: a due has at most one non-terminal payment
  - trg_payments_snapshot_immutable: snapshot columns cannot be updated

MONEY:
  Amounts are stored as integer minor units, one column per currency.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so ":memory:"
  databases are shared by every statement. WithTx holds the write lock for the
  lifetime of the transaction; the store handed to fn runs its statements on
  the *sql.Tx without touching the mutex again.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/dues.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := dues.NewEngine(store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/dues-engine/generic"
)

// timestampLayout is fixed-width so stored instants sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.TxStore       = (*Store)(nil)
	_ generic.AuditLog      = (*Store)(nil)
	_ generic.SweepRunStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Live configuration (single row, versioned)
	CREATE TABLE IF NOT EXISTS payment_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		base_usd INTEGER NOT NULL,
		base_ves INTEGER NOT NULL,
		penalty_bp INTEGER NOT NULL,
		cutoff_day INTEGER NOT NULL CHECK (cutoff_day BETWEEN 1 AND 28),
		pricing_policy TEXT NOT NULL,
		effective_from TEXT,
		instructions TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		updated_by TEXT
	);

	CREATE TABLE IF NOT EXISTS academic_periods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_year INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS period_months (
		period_id TEXT NOT NULL REFERENCES academic_periods(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		override_usd INTEGER,
		override_ves INTEGER,
		PRIMARY KEY (period_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS monthly_dues (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES academic_periods(id),
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		base_applied_usd INTEGER NOT NULL,
		base_applied_ves INTEGER NOT NULL,
		updated_base_usd INTEGER NOT NULL,
		updated_base_ves INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		penalty_bp INTEGER NOT NULL,
		pricing_policy TEXT NOT NULL,
		config_version INTEGER NOT NULL,
		estado TEXT NOT NULL,
		live_mora_usd INTEGER NOT NULL DEFAULT 0,
		live_mora_ves INTEGER NOT NULL DEFAULT 0,
		mora_as_of TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One due per student per period month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_dues_key
		ON monthly_dues(student_id, period_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_dues_period_estado
		ON monthly_dues(period_id, estado);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		due_id TEXT NOT NULL REFERENCES monthly_dues(id),
		student_id TEXT NOT NULL,
		monto_usd INTEGER NOT NULL,
		monto_ves INTEGER NOT NULL,
		mora_usd INTEGER NOT NULL,
		mora_ves INTEGER NOT NULL,
		descuento_usd INTEGER NOT NULL,
		descuento_ves INTEGER NOT NULL,
		referencia TEXT,
		evidence_ref TEXT,
		observaciones TEXT,
		method TEXT NOT NULL,
		estado TEXT NOT NULL,
		snap_month INTEGER NOT NULL,
		snap_year INTEGER NOT NULL,
		snap_price_usd INTEGER NOT NULL,
		snap_price_ves INTEGER NOT NULL,
		snap_penalty_usd INTEGER NOT NULL,
		snap_penalty_ves INTEGER NOT NULL,
		snap_penalty_bp INTEGER NOT NULL,
		snap_cutoff_day INTEGER NOT NULL,
		snap_config_version INTEGER NOT NULL,
		snap_evaluated_on TEXT NOT NULL,
		recorded_by TEXT,
		reviewed_by TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		reported_at TEXT,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_due ON payments(due_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_payments_student ON payments(student_id);

	-- CRITICAL: at most one open payment per due
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_active
		ON payments(due_id)
		WHERE estado IN ('pendiente', 'reportado');

	-- Snapshot columns are write-once
	CREATE TRIGGER IF NOT EXISTS trg_payments_snapshot_immutable
	BEFORE UPDATE OF snap_month, snap_year, snap_price_usd, snap_price_ves,
		snap_penalty_usd, snap_penalty_ves, snap_penalty_bp, snap_cutoff_day,
		snap_config_version, snap_evaluated_on,
		monto_usd, monto_ves, mora_usd, mora_ves, descuento_usd, descuento_ves
	ON payments
	BEGIN
		SELECT RAISE(ABORT, 'payment snapshot is immutable');
	END;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		due_id TEXT,
		payment_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_due ON audit_log(due_id);
	CREATE INDEX IF NOT EXISTS idx_audit_payment ON audit_log(payment_id);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		scanned INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED STORE METHODS
// =============================================================================

func (s *Store) base() *txStore { return &txStore{q: s.db} }

func (s *Store) GetConfig(ctx context.Context) (generic.PaymentConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().GetConfig(ctx)
}

func (s *Store) SaveConfig(ctx context.Context, cfg generic.PaymentConfiguration) (generic.PaymentConfiguration, error) {
	var saved generic.PaymentConfiguration
	err := s.WithTx(ctx, func(tx generic.Store) error {
		var err error
		saved, err = tx.SaveConfig(ctx, cfg)
		return err
	})
	return saved, err
}

func (s *Store) SavePeriod(ctx context.Context, p generic.AcademicPeriod) error {
	return s.WithTx(ctx, func(tx generic.Store) error {
		return tx.SavePeriod(ctx, p)
	})
}

func (s *Store) GetPeriod(ctx context.Context, id generic.PeriodID) (generic.AcademicPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().GetPeriod(ctx, id)
}

func (s *Store) ListPeriods(ctx context.Context) ([]generic.AcademicPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().ListPeriods(ctx)
}

func (s *Store) CreateDue(ctx context.Context, due generic.MonthlyDue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().CreateDue(ctx, due)
}

func (s *Store) GetDue(ctx context.Context, id generic.DueID) (generic.MonthlyDue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().GetDue(ctx, id)
}

func (s *Store) UpdateDue(ctx context.Context, due generic.MonthlyDue) (generic.MonthlyDue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().UpdateDue(ctx, due)
}

func (s *Store) ListDues(ctx context.Context, filter generic.DueFilter) ([]generic.MonthlyDue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().ListDues(ctx, filter)
}

func (s *Store) CreatePayment(ctx context.Context, p generic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().CreatePayment(ctx, p)
}

func (s *Store) GetPayment(ctx context.Context, id generic.PaymentID) (generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().GetPayment(ctx, id)
}

func (s *Store) UpdatePayment(ctx context.Context, p generic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().UpdatePayment(ctx, p)
}

func (s *Store) ListPayments(ctx context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().ListPayments(ctx, filter)
}

func (s *Store) ActivePayment(ctx context.Context, dueID generic.DueID) (*generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base().ActivePayment(ctx, dueID)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&txStore{q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// TX STORE - Statements against a querier, no locking
// =============================================================================

type txStore struct {
	q querier
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (ts *txStore) GetConfig(ctx context.Context) (generic.PaymentConfiguration, error) {
	query := `
		SELECT base_usd, base_ves, penalty_bp, cutoff_day, pricing_policy,
			effective_from, instructions, version, updated_at, updated_by
		FROM payment_config WHERE id = 1
	`

	var cfg generic.PaymentConfiguration
	var baseUSD, baseVES, penalty int64
	var effectiveFrom, instructions, updatedBy sql.NullString
	var policy, updatedAt string
	err := ts.q.QueryRowContext(ctx, query).Scan(
		&baseUSD, &baseVES, &penalty, &cfg.CutoffDay, &policy,
		&effectiveFrom, &instructions, &cfg.Version, &updatedAt, &updatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.PaymentConfiguration{}, generic.ErrConfigurationMissing
	}
	if err != nil {
		return generic.PaymentConfiguration{}, err
	}

	cfg.BasePrice = generic.NewAmounts(baseUSD, baseVES)
	cfg.PenaltyRate = generic.BasisPoints(penalty)
	cfg.PricingPolicy = generic.PricingPolicy(policy)
	cfg.EffectiveFrom = parseDate(effectiveFrom)
	cfg.Instructions = instructions.String
	cfg.UpdatedAt = parseTimestamp(updatedAt)
	cfg.UpdatedBy = updatedBy.String
	return cfg, nil
}

func (ts *txStore) SaveConfig(ctx context.Context, cfg generic.PaymentConfiguration) (generic.PaymentConfiguration, error) {
	var current int64
	err := ts.q.QueryRowContext(ctx, `SELECT version FROM payment_config WHERE id = 1`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return generic.PaymentConfiguration{}, err
	}
	if cfg.Version != current {
		return generic.PaymentConfiguration{}, generic.ErrConcurrentModification
	}
	cfg.Version++

	query := `
		INSERT INTO payment_config (id, base_usd, base_ves, penalty_bp, cutoff_day,
			pricing_policy, effective_from, instructions, version, updated_at, updated_by)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			base_usd = excluded.base_usd,
			base_ves = excluded.base_ves,
			penalty_bp = excluded.penalty_bp,
			cutoff_day = excluded.cutoff_day,
			pricing_policy = excluded.pricing_policy,
			effective_from = excluded.effective_from,
			instructions = excluded.instructions,
			version = excluded.version,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`
	_, err = ts.q.ExecContext(ctx, query,
		cfg.BasePrice.USD.Minor, cfg.BasePrice.VES.Minor, int64(cfg.PenaltyRate), cfg.CutoffDay,
		string(cfg.PricingPolicy), nullDate(cfg.EffectiveFrom), nullString(cfg.Instructions),
		cfg.Version, formatTimestamp(cfg.UpdatedAt), nullString(cfg.UpdatedBy),
	)
	if err != nil {
		return generic.PaymentConfiguration{}, fmt.Errorf("save config: %w", err)
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

// SavePeriod replaces the period row and its months.
func (ts *txStore) SavePeriod(ctx context.Context, p generic.AcademicPeriod) error {
	if p.StartYear == 0 {
		p.StartYear = generic.PeriodStartYearOf(p)
	}

	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO academic_periods (id, name, start_year) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, start_year = excluded.start_year
	`, string(p.ID), p.Name, p.StartYear)
	if err != nil {
		return fmt.Errorf("save period: %w", err)
	}

	if _, err := ts.q.ExecContext(ctx, `DELETE FROM period_months WHERE period_id = ?`, string(p.ID)); err != nil {
		return fmt.Errorf("clear period months: %w", err)
	}

	for _, m := range p.Months {
		var usd, ves sql.NullInt64
		if m.Override != nil {
			usd = sql.NullInt64{Int64: m.Override.USD.Minor, Valid: true}
			ves = sql.NullInt64{Int64: m.Override.VES.Minor, Valid: true}
		}
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO period_months (period_id, year, month, override_usd, override_ves)
			VALUES (?, ?, ?, ?, ?)
		`, string(p.ID), m.Year, int(m.Month), usd, ves)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: month %d/%d listed twice", generic.ErrInvalidConfiguration, m.Month, m.Year)
			}
			return fmt.Errorf("save period month: %w", err)
		}
	}
	return nil
}

func (ts *txStore) GetPeriod(ctx context.Context, id generic.PeriodID) (generic.AcademicPeriod, error) {
	p := generic.AcademicPeriod{ID: id}
	err := ts.q.QueryRowContext(ctx,
		`SELECT name, start_year FROM academic_periods WHERE id = ?`, string(id),
	).Scan(&p.Name, &p.StartYear)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.AcademicPeriod{}, generic.ErrPeriodNotFound
	}
	if err != nil {
		return generic.AcademicPeriod{}, err
	}

	p.Months, err = ts.loadMonths(ctx, id)
	if err != nil {
		return generic.AcademicPeriod{}, err
	}
	return p, nil
}

func (ts *txStore) ListPeriods(ctx context.Context) ([]generic.AcademicPeriod, error) {
	rows, err := ts.q.QueryContext(ctx,
		`SELECT id, name, start_year FROM academic_periods ORDER BY start_year, id`)
	if err != nil {
		return nil, err
	}

	var periods []generic.AcademicPeriod
	for rows.Next() {
		var p generic.AcademicPeriod
		var id string
		if err := rows.Scan(&id, &p.Name, &p.StartYear); err != nil {
			rows.Close()
			return nil, err
		}
		p.ID = generic.PeriodID(id)
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Single connection: release it before the nested month queries.
	rows.Close()

	for i := range periods {
		if periods[i].Months, err = ts.loadMonths(ctx, periods[i].ID); err != nil {
			return nil, err
		}
	}
	return periods, nil
}

func (ts *txStore) loadMonths(ctx context.Context, id generic.PeriodID) ([]generic.PeriodMonth, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT year, month, override_usd, override_ves
		FROM period_months WHERE period_id = ?
		ORDER BY year, month
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	months := []generic.PeriodMonth{}
	for rows.Next() {
		var m generic.PeriodMonth
		var month int
		var usd, ves sql.NullInt64
		if err := rows.Scan(&m.Year, &month, &usd, &ves); err != nil {
			return nil, err
		}
		m.Month = time.Month(month)
		if usd.Valid && ves.Valid {
			o := generic.NewAmounts(usd.Int64, ves.Int64)
			m.Override = &o
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// -----------------------------------------------------------------------------
// Dues
// -----------------------------------------------------------------------------

const dueColumns = `
	id, student_id, period_id, month, year,
	base_applied_usd, base_applied_ves, updated_base_usd, updated_base_ves,
	due_date, penalty_bp, pricing_policy, config_version, estado,
	live_mora_usd, live_mora_ves, mora_as_of, version, created_at, updated_at
`

func (ts *txStore) CreateDue(ctx context.Context, due generic.MonthlyDue) error {
	if due.Version == 0 {
		due.Version = 1
	}

	query := `INSERT INTO monthly_dues (` + dueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ts.q.ExecContext(ctx, query,
		string(due.ID), string(due.StudentID), string(due.PeriodID), int(due.Month), due.Year,
		due.BaseApplied.USD.Minor, due.BaseApplied.VES.Minor,
		due.UpdatedBase.USD.Minor, due.UpdatedBase.VES.Minor,
		due.DueDate.String(), int64(due.PenaltyRateApplied), string(due.PricingPolicy),
		due.ConfigVersion, string(due.Estado),
		due.LiveMora.USD.Minor, due.LiveMora.VES.Minor, nullDate(due.MoraAsOf),
		due.Version, formatTimestamp(due.CreatedAt), formatTimestamp(due.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateDue
		}
		return fmt.Errorf("create due: %w", err)
	}
	return nil
}

func (ts *txStore) GetDue(ctx context.Context, id generic.DueID) (generic.MonthlyDue, error) {
	row := ts.q.QueryRowContext(ctx,
		`SELECT `+dueColumns+` FROM monthly_dues WHERE id = ?`, string(id))
	due, err := scanDue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.MonthlyDue{}, generic.ErrDueNotFound
	}
	return due, err
}

// UpdateDue is a compare-and-swap on the version column. BaseApplied and
// the key columns are never rewritten.
func (ts *txStore) UpdateDue(ctx context.Context, due generic.MonthlyDue) (generic.MonthlyDue, error) {
	query := `
		UPDATE monthly_dues SET
			updated_base_usd = ?, updated_base_ves = ?,
			due_date = ?, penalty_bp = ?, config_version = ?, estado = ?,
			live_mora_usd = ?, live_mora_ves = ?, mora_as_of = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		due.UpdatedBase.USD.Minor, due.UpdatedBase.VES.Minor,
		due.DueDate.String(), int64(due.PenaltyRateApplied), due.ConfigVersion, string(due.Estado),
		due.LiveMora.USD.Minor, due.LiveMora.VES.Minor, nullDate(due.MoraAsOf),
		formatTimestamp(due.UpdatedAt),
		string(due.ID), due.Version,
	)
	if err != nil {
		return generic.MonthlyDue{}, fmt.Errorf("update due: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return generic.MonthlyDue{}, err
	}
	if n == 0 {
		if _, err := ts.GetDue(ctx, due.ID); err != nil {
			return generic.MonthlyDue{}, err
		}
		return generic.MonthlyDue{}, generic.ErrConcurrentModification
	}

	return ts.GetDue(ctx, due.ID)
}

func (ts *txStore) ListDues(ctx context.Context, filter generic.DueFilter) ([]generic.MonthlyDue, error) {
	var where []string
	var args []any

	if filter.StudentID != "" {
		where = append(where, "d.student_id = ?")
		args = append(args, string(filter.StudentID))
	}
	if filter.PeriodID != "" {
		where = append(where, "d.period_id = ?")
		args = append(args, string(filter.PeriodID))
	}
	if len(filter.Estados) > 0 {
		marks := make([]string, len(filter.Estados))
		for i, e := range filter.Estados {
			marks[i] = "?"
			args = append(args, string(e))
		}
		where = append(where, "d.estado IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.MinPeriodStartYear != 0 {
		where = append(where, "p.start_year >= ?")
		args = append(args, filter.MinPeriodStartYear)
	}

	query := `SELECT ` + prefixColumns("d", dueColumns) + `
		FROM monthly_dues d
		JOIN academic_periods p ON p.id = d.period_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY d.year, d.month, d.id"

	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dues []generic.MonthlyDue
	for rows.Next() {
		due, err := scanDue(rows)
		if err != nil {
			return nil, err
		}
		dues = append(dues, due)
	}
	return dues, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDue(row rowScanner) (generic.MonthlyDue, error) {
	var d generic.MonthlyDue
	var id, studentID, periodID, dueDate, policy, estado, createdAt, updatedAt string
	var month int
	var baseUSD, baseVES, updUSD, updVES, penalty, moraUSD, moraVES int64
	var moraAsOf sql.NullString

	err := row.Scan(
		&id, &studentID, &periodID, &month, &d.Year,
		&baseUSD, &baseVES, &updUSD, &updVES,
		&dueDate, &penalty, &policy, &d.ConfigVersion, &estado,
		&moraUSD, &moraVES, &moraAsOf, &d.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return generic.MonthlyDue{}, err
	}

	d.ID = generic.DueID(id)
	d.StudentID = generic.StudentID(studentID)
	d.PeriodID = generic.PeriodID(periodID)
	d.Month = time.Month(month)
	d.BaseApplied = generic.NewAmounts(baseUSD, baseVES)
	d.UpdatedBase = generic.NewAmounts(updUSD, updVES)
	d.DueDate = parseDate(sql.NullString{String: dueDate, Valid: true})
	d.PenaltyRateApplied = generic.BasisPoints(penalty)
	d.PricingPolicy = generic.PricingPolicy(policy)
	d.Estado = generic.Estado(estado)
	d.LiveMora = generic.NewAmounts(moraUSD, moraVES)
	d.MoraAsOf = parseDate(moraAsOf)
	d.CreatedAt = parseTimestamp(createdAt)
	d.UpdatedAt = parseTimestamp(updatedAt)
	return d, nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

const paymentColumns = `
	id, due_id, student_id,
	monto_usd, monto_ves, mora_usd, mora_ves, descuento_usd, descuento_ves,
	referencia, evidence_ref, observaciones, method, estado,
	snap_month, snap_year, snap_price_usd, snap_price_ves,
	snap_penalty_usd, snap_penalty_ves, snap_penalty_bp, snap_cutoff_day,
	snap_config_version, snap_evaluated_on,
	recorded_by, reviewed_by, rejection_reason,
	created_at, reported_at, resolved_at
`

func (ts *txStore) CreatePayment(ctx context.Context, p generic.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	snap := p.Snapshot
	_, err := ts.q.ExecContext(ctx, query,
		string(p.ID), string(p.DueID), string(p.StudentID),
		p.Monto.USD.Minor, p.Monto.VES.Minor,
		p.MontoMora.USD.Minor, p.MontoMora.VES.Minor,
		p.Descuento.USD.Minor, p.Descuento.VES.Minor,
		nullString(p.Referencia), nullString(p.EvidenceRef), nullString(p.Observaciones),
		string(p.Method), string(p.Estado),
		int(snap.Month), snap.Year, snap.PriceApplied.USD.Minor, snap.PriceApplied.VES.Minor,
		snap.PenaltyApplied.USD.Minor, snap.PenaltyApplied.VES.Minor,
		int64(snap.PenaltyRateApplied), snap.CutoffDayApplied,
		snap.ConfigVersion, snap.EvaluatedOn.String(),
		nullString(p.RecordedBy), nullString(p.ReviewedBy), nullString(p.RejectionReason),
		formatTimestamp(p.CreatedAt), nullTimestamp(p.ReportedAt), nullTimestamp(p.ResolvedAt),
	)
	if err != nil {
		if isActivePaymentError(err) {
			return generic.ErrPaymentInProgress
		}
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (ts *txStore) GetPayment(ctx context.Context, id generic.PaymentID) (generic.Payment, error) {
	row := ts.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, string(id))
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Payment{}, generic.ErrPaymentNotFound
	}
	return p, err
}

// UpdatePayment writes state, review and evidence fields. Amount and
// snapshot columns are left untouched.
func (ts *txStore) UpdatePayment(ctx context.Context, p generic.Payment) error {
	query := `
		UPDATE payments SET
			referencia = ?, evidence_ref = ?, observaciones = ?, estado = ?,
			reviewed_by = ?, rejection_reason = ?, reported_at = ?, resolved_at = ?
		WHERE id = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		nullString(p.Referencia), nullString(p.EvidenceRef), nullString(p.Observaciones),
		string(p.Estado), nullString(p.ReviewedBy), nullString(p.RejectionReason),
		nullTimestamp(p.ReportedAt), nullTimestamp(p.ResolvedAt),
		string(p.ID),
	)
	if err != nil {
		if isActivePaymentError(err) {
			return generic.ErrPaymentInProgress
		}
		return fmt.Errorf("update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrPaymentNotFound
	}
	return nil
}

func (ts *txStore) ListPayments(ctx context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	var where []string
	var args []any

	if filter.DueID != "" {
		where = append(where, "due_id = ?")
		args = append(args, string(filter.DueID))
	}
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, string(filter.StudentID))
	}
	if filter.Estado != "" {
		where = append(where, "estado = ?")
		args = append(args, string(filter.Estado))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	return ts.queryPayments(ctx, query, args...)
}

func (ts *txStore) ActivePayment(ctx context.Context, dueID generic.DueID) (*generic.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE due_id = ? AND estado IN ('pendiente', 'reportado')
		ORDER BY created_at LIMIT 1`

	payments, err := ts.queryPayments(ctx, query, string(dueID))
	if err != nil || len(payments) == 0 {
		return nil, err
	}
	return &payments[0], nil
}

func (ts *txStore) queryPayments(ctx context.Context, query string, args ...any) ([]generic.Payment, error) {
	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []generic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (generic.Payment, error) {
	var p generic.Payment
	var id, dueID, studentID, method, estado, evaluatedOn, createdAt string
	var montoUSD, montoVES, moraUSD, moraVES, descUSD, descVES int64
	var snapMonth int
	var priceUSD, priceVES, penUSD, penVES, penBP int64
	var referencia, evidence, observaciones, recordedBy, reviewedBy, reason sql.NullString
	var reportedAt, resolvedAt sql.NullString

	err := row.Scan(
		&id, &dueID, &studentID,
		&montoUSD, &montoVES, &moraUSD, &moraVES, &descUSD, &descVES,
		&referencia, &evidence, &observaciones, &method, &estado,
		&snapMonth, &p.Snapshot.Year, &priceUSD, &priceVES,
		&penUSD, &penVES, &penBP, &p.Snapshot.CutoffDayApplied,
		&p.Snapshot.ConfigVersion, &evaluatedOn,
		&recordedBy, &reviewedBy, &reason,
		&createdAt, &reportedAt, &resolvedAt,
	)
	if err != nil {
		return generic.Payment{}, err
	}

	p.ID = generic.PaymentID(id)
	p.DueID = generic.DueID(dueID)
	p.StudentID = generic.StudentID(studentID)
	p.Monto = generic.NewAmounts(montoUSD, montoVES)
	p.MontoMora = generic.NewAmounts(moraUSD, moraVES)
	p.Descuento = generic.NewAmounts(descUSD, descVES)
	p.Referencia = referencia.String
	p.EvidenceRef = evidence.String
	p.Observaciones = observaciones.String
	p.Method = generic.PaymentMethod(method)
	p.Estado = generic.Estado(estado)

	p.Snapshot.Month = time.Month(snapMonth)
	p.Snapshot.PriceApplied = generic.NewAmounts(priceUSD, priceVES)
	p.Snapshot.PenaltyApplied = generic.NewAmounts(penUSD, penVES)
	p.Snapshot.PenaltyRateApplied = generic.BasisPoints(penBP)
	p.Snapshot.EvaluatedOn = parseDate(sql.NullString{String: evaluatedOn, Valid: true})

	p.RecordedBy = recordedBy.String
	p.ReviewedBy = reviewedBy.String
	p.RejectionReason = reason.String
	p.CreatedAt = parseTimestamp(createdAt)
	p.ReportedAt = parseNullTimestamp(reportedAt)
	p.ResolvedAt = parseNullTimestamp(resolvedAt)
	return p, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit adds an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload sql.NullString
	if len(entry.Payload) > 0 {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, due_id, payment_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, formatTimestamp(entry.Timestamp), nullString(entry.ActorID), string(entry.Action),
		nullString(string(entry.DueID)), nullString(string(entry.PaymentID)), payload)
	return err
}

// QueryAudit returns matching entries oldest first.
func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.DueID != "" {
		where = append(where, "due_id = ?")
		args = append(args, string(filter.DueID))
	}
	if filter.PaymentID != "" {
		where = append(where, "payment_id = ?")
		args = append(args, string(filter.PaymentID))
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT id, timestamp, actor_id, action, due_id, payment_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var ts, action string
		var actorID, dueID, paymentID, payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &actorID, &action, &dueID, &paymentID, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = parseTimestamp(ts)
		e.ActorID = actorID.String
		e.Action = generic.AuditAction(action)
		e.DueID = generic.DueID(dueID.String)
		e.PaymentID = generic.PaymentID(paymentID.String)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SaveSweepRun inserts or replaces a sweep run.
func (s *Store) SaveSweepRun(ctx context.Context, r generic.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sweep_runs (id, as_of, status, scanned, updated, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scanned = excluded.scanned,
			updated = excluded.updated,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.AsOf.String(), string(r.Status), r.Scanned, r.Updated, nullString(r.Error),
		formatTimestamp(r.StartedAt), nullTimestamp(r.CompletedAt),
	)
	return err
}

// ListSweepRuns returns sweep runs newest first.
func (s *Store) ListSweepRuns(ctx context.Context, status generic.SweepStatus) ([]generic.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, as_of, status, scanned, updated, error, started_at, completed_at
		FROM sweep_runs
	`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.SweepRun
	for rows.Next() {
		var r generic.SweepRun
		var asOf, st, startedAt string
		var errText, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &asOf, &st, &r.Scanned, &r.Updated, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.AsOf = parseDate(sql.NullString{String: asOf, Valid: true})
		r.Status = generic.SweepStatus(st)
		r.Error = errText.String
		r.StartedAt = parseTimestamp(startedAt)
		r.CompletedAt = parseNullTimestamp(completedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp generic.TimePoint) sql.NullString {
	return nullString(tp.String())
}

func parseDate(s sql.NullString) generic.TimePoint {
	if !s.Valid || s.String == "" {
		return generic.TimePoint{}
	}
	tp, _ := generic.ParseDate(s.String)
	return tp
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func parseNullTimestamp(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTimestamp(s.String)
	return &t
}

func prefixColumns(alias, columns string) string {
	fields := strings.Split(columns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isActivePaymentError(err error) bool {
	// SQLite names the indexed column, not the partial index, so a unique
	// violation on payments.due_id can only come from idx_payments_one_active.
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "payments.due_id")
}
