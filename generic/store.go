/*
store.go - Persistence interfaces for configuration, periods, dues and payments

PURPOSE:
  Defines the interface between the domain services and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:         Configuration, period, due and payment persistence
  TxStore:       Transactional operations (config update + propagation)
  AuditLog:      Who did what when
  SweepRunStore: History of mora sweep runs

OPTIMISTIC VERSIONING:
  SaveConfig and UpdateDue compare the stored Version with the Version of the
  record passed in. A mismatch returns ErrConcurrentModification and nothing
  is written; on success the stored Version is incremented.

SNAPSHOT CONTRACT:
  CreatePayment writes Payment.Snapshot once. UpdatePayment persists state,
  review and evidence fields only; the snapshot is never rewritten.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - dues/config.go: Uses WithTx for config update + propagation
  - dues/workflow.go: Uses UpdateDue/UpdatePayment
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for engine persistence
// =============================================================================

type Store interface {
	// GetConfig returns the live configuration or ErrConfigurationMissing.
	GetConfig(ctx context.Context) (PaymentConfiguration, error)

	// SaveConfig writes cfg when the stored version equals cfg.Version
	// (0 when none exists yet) and returns it with Version bumped.
	SaveConfig(ctx context.Context, cfg PaymentConfiguration) (PaymentConfiguration, error)

	// SavePeriod inserts or replaces a period and its months.
	SavePeriod(ctx context.Context, p AcademicPeriod) error
	GetPeriod(ctx context.Context, id PeriodID) (AcademicPeriod, error)
	// ListPeriods returns periods ordered by start year.
	ListPeriods(ctx context.Context) ([]AcademicPeriod, error)

	// CreateDue inserts a new due. Returns ErrDuplicateDue if its key exists.
	CreateDue(ctx context.Context, due MonthlyDue) error
	GetDue(ctx context.Context, id DueID) (MonthlyDue, error)
	// UpdateDue writes due when the stored version equals due.Version and
	// returns it with Version bumped.
	UpdateDue(ctx context.Context, due MonthlyDue) (MonthlyDue, error)
	// ListDues returns matching dues ordered by year, month.
	ListDues(ctx context.Context, filter DueFilter) ([]MonthlyDue, error)

	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	// ListPayments returns matching payments ordered by creation time.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	// ActivePayment returns the due's non-terminal payment, or nil.
	ActivePayment(ctx context.Context, dueID DueID) (*Payment, error)
}

// DueFilter selects dues. Zero-valued fields match everything.
type DueFilter struct {
	StudentID StudentID
	PeriodID  PeriodID
	Estados   []Estado
	// MinPeriodStartYear restricts to periods starting in or after this year.
	MinPeriodStartYear int
}

func (f DueFilter) MatchesEstado(e Estado) bool {
	if len(f.Estados) == 0 {
		return true
	}
	for _, s := range f.Estados {
		if s == e {
			return true
		}
	}
	return false
}

type PaymentFilter struct {
	DueID     DueID
	StudentID StudentID
	Estado    Estado
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	DueID     DueID
	PaymentID PaymentID
	Payload   map[string]any
}

type AuditAction string

const (
	AuditConfigUpdated    AuditAction = "config_updated"
	AuditDuesGenerated    AuditAction = "dues_generated"
	AuditPaymentRecorded  AuditAction = "payment_recorded"
	AuditPaymentReported  AuditAction = "payment_reported"
	AuditPaymentApproved  AuditAction = "payment_approved"
	AuditPaymentRejected  AuditAction = "payment_rejected"
	AuditPaymentSettled   AuditAction = "payment_settled"
	AuditDueVoided        AuditAction = "due_voided"
	AuditPricePropagation AuditAction = "price_propagation"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	DueID     DueID
	PaymentID PaymentID
	ActorID   string
	Actions   []AuditAction
}

// =============================================================================
// SWEEP RUNS - History of mora recomputation
// =============================================================================

type SweepStatus string

const (
	SweepRunning   SweepStatus = "running"
	SweepCompleted SweepStatus = "completed"
	SweepFailed    SweepStatus = "failed"
)

type SweepRun struct {
	ID          string
	AsOf        TimePoint
	Status      SweepStatus
	Scanned     int
	Updated     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type SweepRunStore interface {
	// SaveSweepRun inserts or replaces a run by ID.
	SaveSweepRun(ctx context.Context, run SweepRun) error
	// ListSweepRuns returns runs newest first, optionally filtered by status.
	ListSweepRuns(ctx context.Context, status SweepStatus) ([]SweepRun, error)
}
