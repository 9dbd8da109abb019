// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/dues-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore, generic.AuditLog and generic.SweepRunStore.
type Memory struct {
	mu sync.RWMutex
	s  *memState
}

func NewMemory() *Memory {
	return &Memory{s: newMemState()}
}

// memState holds the data and implements generic.Store without locking.
// Memory guards it with mu; inside WithTx it is handed to fn directly.
type memState struct {
	config   *generic.PaymentConfiguration
	periods  map[generic.PeriodID]generic.AcademicPeriod
	dues     map[generic.DueID]generic.MonthlyDue
	dueKeys  map[generic.DueKey]generic.DueID
	payments map[generic.PaymentID]generic.Payment
	audit    []generic.AuditEntry
	sweeps   map[string]generic.SweepRun
}

func newMemState() *memState {
	return &memState{
		periods:  make(map[generic.PeriodID]generic.AcademicPeriod),
		dues:     make(map[generic.DueID]generic.MonthlyDue),
		dueKeys:  make(map[generic.DueKey]generic.DueID),
		payments: make(map[generic.PaymentID]generic.Payment),
		sweeps:   make(map[string]generic.SweepRun),
	}
}

// clone copies the maps. Stored values are replaced, never mutated, so a
// shallow copy of each map is a full snapshot.
func (s *memState) clone() *memState {
	c := newMemState()
	if s.config != nil {
		cfg := *s.config
		c.config = &cfg
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.dues {
		c.dues[k] = v
	}
	for k, v := range s.dueKeys {
		c.dueKeys[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	for k, v := range s.sweeps {
		c.sweeps[k] = v
	}
	return c
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *memState) GetConfig(_ context.Context) (generic.PaymentConfiguration, error) {
	if s.config == nil {
		return generic.PaymentConfiguration{}, generic.ErrConfigurationMissing
	}
	return *s.config, nil
}

func (s *memState) SaveConfig(_ context.Context, cfg generic.PaymentConfiguration) (generic.PaymentConfiguration, error) {
	var current int64
	if s.config != nil {
		current = s.config.Version
	}
	if cfg.Version != current {
		return generic.PaymentConfiguration{}, generic.ErrConcurrentModification
	}
	cfg.Version++
	s.config = &cfg
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

func (s *memState) SavePeriod(_ context.Context, p generic.AcademicPeriod) error {
	p.Months = copyMonths(p.Months)
	if p.StartYear == 0 {
		p.StartYear = generic.PeriodStartYearOf(p)
	}
	s.periods[p.ID] = p
	return nil
}

func (s *memState) GetPeriod(_ context.Context, id generic.PeriodID) (generic.AcademicPeriod, error) {
	p, ok := s.periods[id]
	if !ok {
		return generic.AcademicPeriod{}, generic.ErrPeriodNotFound
	}
	p.Months = copyMonths(p.Months)
	return p, nil
}

func (s *memState) ListPeriods(_ context.Context) ([]generic.AcademicPeriod, error) {
	result := make([]generic.AcademicPeriod, 0, len(s.periods))
	for _, p := range s.periods {
		p.Months = copyMonths(p.Months)
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartYear != result[j].StartYear {
			return result[i].StartYear < result[j].StartYear
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func copyMonths(in []generic.PeriodMonth) []generic.PeriodMonth {
	out := make([]generic.PeriodMonth, len(in))
	for i, m := range in {
		if m.Override != nil {
			o := *m.Override
			m.Override = &o
		}
		out[i] = m
	}
	return out
}

// -----------------------------------------------------------------------------
// Dues
// -----------------------------------------------------------------------------

func (s *memState) CreateDue(_ context.Context, due generic.MonthlyDue) error {
	if _, exists := s.dueKeys[due.Key()]; exists {
		return generic.ErrDuplicateDue
	}
	if _, exists := s.dues[due.ID]; exists {
		return generic.ErrDuplicateDue
	}
	if due.Version == 0 {
		due.Version = 1
	}
	s.dues[due.ID] = due
	s.dueKeys[due.Key()] = due.ID
	return nil
}

func (s *memState) GetDue(_ context.Context, id generic.DueID) (generic.MonthlyDue, error) {
	d, ok := s.dues[id]
	if !ok {
		return generic.MonthlyDue{}, generic.ErrDueNotFound
	}
	return d, nil
}

func (s *memState) UpdateDue(_ context.Context, due generic.MonthlyDue) (generic.MonthlyDue, error) {
	current, ok := s.dues[due.ID]
	if !ok {
		return generic.MonthlyDue{}, generic.ErrDueNotFound
	}
	if current.Version != due.Version {
		return generic.MonthlyDue{}, generic.ErrConcurrentModification
	}
	due.Version++
	s.dues[due.ID] = due
	return due, nil
}

func (s *memState) ListDues(_ context.Context, filter generic.DueFilter) ([]generic.MonthlyDue, error) {
	var result []generic.MonthlyDue
	for _, d := range s.dues {
		if filter.StudentID != "" && d.StudentID != filter.StudentID {
			continue
		}
		if filter.PeriodID != "" && d.PeriodID != filter.PeriodID {
			continue
		}
		if !filter.MatchesEstado(d.Estado) {
			continue
		}
		if filter.MinPeriodStartYear != 0 {
			p, ok := s.periods[d.PeriodID]
			if !ok || p.StartYear < filter.MinPeriodStartYear {
				continue
			}
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.ID < b.ID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (s *memState) CreatePayment(_ context.Context, p generic.Payment) error {
	if _, exists := s.payments[p.ID]; exists {
		return generic.ErrConcurrentModification
	}
	s.payments[p.ID] = p
	return nil
}

func (s *memState) GetPayment(_ context.Context, id generic.PaymentID) (generic.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return generic.Payment{}, generic.ErrPaymentNotFound
	}
	return p, nil
}

func (s *memState) UpdatePayment(_ context.Context, p generic.Payment) error {
	current, ok := s.payments[p.ID]
	if !ok {
		return generic.ErrPaymentNotFound
	}
	// snapshot and amounts are write-once
	p.Snapshot = current.Snapshot
	p.Monto, p.MontoMora, p.Descuento = current.Monto, current.MontoMora, current.Descuento
	s.payments[p.ID] = p
	return nil
}

func (s *memState) ListPayments(_ context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	var result []generic.Payment
	for _, p := range s.payments {
		if filter.DueID != "" && p.DueID != filter.DueID {
			continue
		}
		if filter.StudentID != "" && p.StudentID != filter.StudentID {
			continue
		}
		if filter.Estado != "" && p.Estado != filter.Estado {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *memState) ActivePayment(ctx context.Context, dueID generic.DueID) (*generic.Payment, error) {
	payments, _ := s.ListPayments(ctx, generic.PaymentFilter{DueID: dueID})
	for _, p := range payments {
		if !p.Estado.IsFinal() {
			return &p, nil
		}
	}
	return nil, nil
}

// =============================================================================
// LOCKED STORE METHODS
// =============================================================================

func (m *Memory) GetConfig(ctx context.Context) (generic.PaymentConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetConfig(ctx)
}

func (m *Memory) SaveConfig(ctx context.Context, cfg generic.PaymentConfiguration) (generic.PaymentConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveConfig(ctx, cfg)
}

func (m *Memory) SavePeriod(ctx context.Context, p generic.AcademicPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SavePeriod(ctx, p)
}

func (m *Memory) GetPeriod(ctx context.Context, id generic.PeriodID) (generic.AcademicPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPeriod(ctx, id)
}

func (m *Memory) ListPeriods(ctx context.Context) ([]generic.AcademicPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListPeriods(ctx)
}

func (m *Memory) CreateDue(ctx context.Context, due generic.MonthlyDue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateDue(ctx, due)
}

func (m *Memory) GetDue(ctx context.Context, id generic.DueID) (generic.MonthlyDue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetDue(ctx, id)
}

func (m *Memory) UpdateDue(ctx context.Context, due generic.MonthlyDue) (generic.MonthlyDue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateDue(ctx, due)
}

func (m *Memory) ListDues(ctx context.Context, filter generic.DueFilter) ([]generic.MonthlyDue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListDues(ctx, filter)
}

func (m *Memory) CreatePayment(ctx context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreatePayment(ctx, p)
}

func (m *Memory) GetPayment(ctx context.Context, id generic.PaymentID) (generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPayment(ctx, id)
}

func (m *Memory) UpdatePayment(ctx context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdatePayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, filter generic.PaymentFilter) ([]generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListPayments(ctx, filter)
}

func (m *Memory) ActivePayment(ctx context.Context, dueID generic.DueID) (*generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ActivePayment(ctx, dueID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// AUDIT LOG + SWEEP RUNS
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.audit = append(m.s.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.AuditEntry
	for _, e := range m.s.audit {
		if filter.DueID != "" && e.DueID != filter.DueID {
			continue
		}
		if filter.PaymentID != "" && e.PaymentID != filter.PaymentID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func containsAction(actions []generic.AuditAction, a generic.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func (m *Memory) SaveSweepRun(_ context.Context, run generic.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.sweeps[run.ID] = run
	return nil
}

func (m *Memory) ListSweepRuns(_ context.Context, status generic.SweepStatus) ([]generic.SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.SweepRun
	for _, r := range m.s.sweeps {
		if status != "" && r.Status != status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return result, nil
}
