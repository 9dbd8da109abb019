/*
Package dues implements the monthly dues lifecycle on top of the generic engine.

PURPOSE:
  Turns the live payment configuration into per-student monthly dues, records
  payments against them with a frozen snapshot, and reconciles those payments
  through the approval workflow.

SERVICES:
  ConfigStore: Get/Update the configuration (update + propagation in one tx)
  Calendar:    Billing months of a period, period-shift rule
  Generator:   Idempotent due materialization
  Propagator:  Retroactive vs frozen repricing of outstanding dues
  Recorder:    Payment capture with snapshot
  Workflow:    Report/Approve/Reject/Settle/Void transitions
  Sweeper:     Periodic live-mora recomputation

CONCURRENCY:
  Every mutation of a due runs under that due's KeyedLocker entry and inside a
  store transaction; stores also check the due's row version. The propagator
  only TryLocks, so it never waits on a payment in flight; busy dues are
  reported stale instead.

USAGE:
  engine := dues.NewEngine(store, dues.WithClock(clock))
  due, _ := engine.Generator.GenerateForStudent(ctx, "stu-1", "2025-2026")
  payment, _ := engine.Recorder.Record(ctx, actor, dues.RecordInput{DueID: due[0].ID})

SEE ALSO:
  - generic/workflow.go: Transition table
  - generic/propagation.go: Per-due repricing rule
*/
package dues

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/dues-engine/generic"
)

// =============================================================================
// SHARED DEPENDENCIES
// =============================================================================

// Deps is shared by every service of an Engine.
type Deps struct {
	Store     generic.TxStore
	AuditLog  generic.AuditLog      // optional
	SweepRuns generic.SweepRunStore // optional
	Locks     *KeyedLocker
	Calendar  generic.Calendar
	Now       func() time.Time
	Logger    *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) today() generic.TimePoint { return generic.DateOf(d.now()) }

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// audit appends an entry after a committed change. Failures are logged only.
func (d *Deps) audit(ctx context.Context, entry generic.AuditEntry) {
	if d.AuditLog == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = "audit-" + uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.now()
	}
	if err := d.AuditLog.AppendAudit(ctx, entry); err != nil {
		d.logger().Warn("audit append failed", "action", entry.Action, "error", err)
	}
}

func newDueID() generic.DueID         { return generic.DueID("due-" + uuid.NewString()) }
func newPaymentID() generic.PaymentID { return generic.PaymentID("pay-" + uuid.NewString()) }

// =============================================================================
// ENGINE - All services wired to one store
// =============================================================================

type Engine struct {
	Deps       *Deps
	Config     *ConfigStore
	Calendar   *Calendar
	Generator  *Generator
	Propagator *Propagator
	Recorder   *Recorder
	Workflow   *Workflow
	Sweeper    *Sweeper
}

type Option func(*Deps)

func WithClock(now func() time.Time) Option { return func(d *Deps) { d.Now = now } }
func WithLogger(l *slog.Logger) Option      { return func(d *Deps) { d.Logger = l } }
func WithAuditLog(a generic.AuditLog) Option {
	return func(d *Deps) { d.AuditLog = a }
}
func WithSweepRuns(s generic.SweepRunStore) Option {
	return func(d *Deps) { d.SweepRuns = s }
}
func WithStartMonth(m time.Month) Option {
	return func(d *Deps) { d.Calendar = generic.NewCalendar(m) }
}

// NewEngine wires every service to store. If store also implements
// generic.AuditLog or generic.SweepRunStore it is used for those too,
// unless an option overrides it.
func NewEngine(store generic.TxStore, opts ...Option) *Engine {
	d := &Deps{
		Store:    store,
		Locks:    NewKeyedLocker(),
		Calendar: generic.NewCalendar(generic.DefaultStartMonth),
	}
	if a, ok := store.(generic.AuditLog); ok {
		d.AuditLog = a
	}
	if s, ok := store.(generic.SweepRunStore); ok {
		d.SweepRuns = s
	}
	for _, opt := range opts {
		opt(d)
	}

	e := &Engine{Deps: d}
	e.Calendar = &Calendar{Deps: d}
	e.Propagator = &Propagator{Deps: d}
	e.Config = &ConfigStore{Deps: d, Propagator: e.Propagator}
	e.Generator = &Generator{Deps: d}
	e.Recorder = &Recorder{Deps: d}
	e.Workflow = &Workflow{Deps: d}
	e.Sweeper = &Sweeper{Deps: d}
	return e
}

// Today is the engine clock's current date; the API reads live mora against it.
func (e *Engine) Today() generic.TimePoint { return e.Deps.today() }
