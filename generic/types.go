/*
Package generic provides the core dues and reconciliation engine.

PURPOSE:
  This package contains the currency-safe value types, the pure pricing and
  penalty algorithms, and the store interfaces shared by every domain service.
  It has no knowledge of HTTP, SQL or authentication.

KEY CONCEPTS IN THIS FILE (types.go):
  - PaymentConfiguration: The single live pricing/penalty record
  - AcademicPeriod: Inbound period with its ordered billing months
  - MonthlyDue: One student's obligation for one billing month
  - Payment: A payment attempt against a due, with its frozen snapshot
  - Estado: The four-state lifecycle shared by dues and payments

DESIGN PRINCIPLES:
  1. Integer money: every amount is minor units in a typed currency
  2. Explicit state: a payment's state is stored, never inferred from evidence
  3. Immutable snapshots: the values applied at payment time never change
  4. Versioned records: configuration and dues carry version counters

USAGE:
  cfg := generic.PaymentConfiguration{
      BasePrice:     generic.NewAmounts(5000, 175000),
      PenaltyRate:   500,
      CutoffDay:     15,
      PricingPolicy: generic.PolicyRetroactive,
  }
  mora := generic.ComputeMoraAmounts(cfg.BasePrice, cfg.CutoffDay, cfg.PenaltyRate, asOf, time.March, 2025)

SEE ALSO:
  - money.go: Money, Amounts and BasisPoints
  - mora.go: Penalty calculation
  - period.go: Billing month derivation and the period-shift rule
  - store.go: Persistence interfaces
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID string
type PeriodID string
type DueID string
type PaymentID string

// =============================================================================
// ACTOR - Inbound caller identity
// =============================================================================

// Actor is the authenticated caller. Privileged actors are staff or administrators.
type Actor struct {
	ID         string
	Role       string
	Privileged bool
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system", Role: "system", Privileged: true}

// =============================================================================
// ESTADO - Shared lifecycle state for dues and payments
// =============================================================================

type Estado string

const (
	EstadoPendiente Estado = "pendiente"
	EstadoReportado Estado = "reportado"
	EstadoPagado    Estado = "pagado"
	EstadoAnulado   Estado = "anulado"
)

func (e Estado) Valid() bool {
	switch e {
	case EstadoPendiente, EstadoReportado, EstadoPagado, EstadoAnulado:
		return true
	}
	return false
}

// IsFinal reports whether the state is terminal.
func (e Estado) IsFinal() bool { return e == EstadoPagado || e == EstadoAnulado }

func ParseEstado(s string) (Estado, error) {
	e := Estado(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown estado %q", s)
	}
	return e, nil
}

// =============================================================================
// PRICING POLICY
// =============================================================================

// PricingPolicy decides whether outstanding dues absorb a new configuration.
type PricingPolicy string

const (
	PolicyRetroactive PricingPolicy = "retroactive"
	PolicyFrozen      PricingPolicy = "frozen"
)

func (p PricingPolicy) Valid() bool { return p == PolicyRetroactive || p == PolicyFrozen }

// =============================================================================
// PAYMENT CONFIGURATION
// =============================================================================

const (
	MinCutoffDay = 1
	MaxCutoffDay = 28
)

// PaymentConfiguration is the live pricing and penalty record.
// Exactly one exists; every update bumps Version.
type PaymentConfiguration struct {
	BasePrice     Amounts
	PenaltyRate   BasisPoints
	CutoffDay     int
	PricingPolicy PricingPolicy
	EffectiveFrom TimePoint
	Instructions  string // opaque, shown to payers
	Version       int64
	UpdatedAt     time.Time
	UpdatedBy     string
}

// ConfigUpdate carries the fields of a configuration update.
// Nil fields keep their current value.
type ConfigUpdate struct {
	BasePrice     *Amounts
	PenaltyRate   *BasisPoints
	CutoffDay     *int
	PricingPolicy *PricingPolicy
	EffectiveFrom *TimePoint
	Instructions  *string
}

// Apply returns cfg with the non-nil fields of u applied. Version is not touched.
func (u ConfigUpdate) Apply(cfg PaymentConfiguration) PaymentConfiguration {
	if u.BasePrice != nil {
		cfg.BasePrice = *u.BasePrice
	}
	if u.PenaltyRate != nil {
		cfg.PenaltyRate = *u.PenaltyRate
	}
	if u.CutoffDay != nil {
		cfg.CutoffDay = *u.CutoffDay
	}
	if u.PricingPolicy != nil {
		cfg.PricingPolicy = *u.PricingPolicy
	}
	if u.EffectiveFrom != nil {
		cfg.EffectiveFrom = *u.EffectiveFrom
	}
	if u.Instructions != nil {
		cfg.Instructions = *u.Instructions
	}
	return cfg
}

// Validate checks every field and reports all violations at once.
func (c PaymentConfiguration) Validate() error {
	var fields []FieldViolation
	if c.CutoffDay < MinCutoffDay || c.CutoffDay > MaxCutoffDay {
		fields = append(fields, FieldViolation{Field: "cutoffDay", Message: fmt.Sprintf("must be between %d and %d", MinCutoffDay, MaxCutoffDay)})
	}
	if c.PenaltyRate < 0 || c.PenaltyRate > OneHundredPercent {
		fields = append(fields, FieldViolation{Field: "penaltyPercent", Message: "must be between 0 and 100"})
	}
	if !c.PricingPolicy.Valid() {
		fields = append(fields, FieldViolation{Field: "pricingPolicy", Message: fmt.Sprintf("must be %q or %q", PolicyRetroactive, PolicyFrozen)})
	}
	if err := c.BasePrice.Validate(); err != nil {
		fields = append(fields, FieldViolation{Field: "basePrice", Message: err.Error()})
	}
	if len(fields) > 0 {
		return &ConfigError{Fields: fields}
	}
	return nil
}

// =============================================================================
// ACADEMIC PERIOD - Inbound from the academic-structure service
// =============================================================================

// PeriodMonth is one billing month of a period, with an optional price override.
type PeriodMonth struct {
	Month    time.Month
	Year     int
	Override *Amounts
}

type AcademicPeriod struct {
	ID        PeriodID
	Name      string
	StartYear int // calendar year of the first billing month
	Months    []PeriodMonth
}

// =============================================================================
// MONTHLY DUE
// =============================================================================

// DueKey is the natural identity of a due.
type DueKey struct {
	StudentID StudentID
	PeriodID  PeriodID
	Month     time.Month
	Year      int
}

func (k DueKey) String() string {
	return fmt.Sprintf("%s/%s/%04d-%02d", k.StudentID, k.PeriodID, k.Year, int(k.Month))
}

type MonthlyDue struct {
	ID        DueID
	StudentID StudentID
	PeriodID  PeriodID
	Month     time.Month
	Year      int

	// BaseApplied is the price at generation time and is never rewritten.
	BaseApplied Amounts
	// UpdatedBase is the price as of the last propagation.
	UpdatedBase Amounts

	DueDate            TimePoint
	PenaltyRateApplied BasisPoints
	PricingPolicy      PricingPolicy // policy in force when generated
	ConfigVersion      int64         // configuration version last applied

	Estado Estado

	// Cached display values maintained by the mora sweep.
	LiveMora Amounts
	MoraAsOf TimePoint

	Version   int64 // optimistic row version
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d MonthlyDue) Key() DueKey {
	return DueKey{StudentID: d.StudentID, PeriodID: d.PeriodID, Month: d.Month, Year: d.Year}
}

// MoraAt computes the penalty owed on the due's current base as of a date.
func (d MonthlyDue) MoraAt(asOf TimePoint) Amounts {
	if d.DueDate.IsZero() || !asOf.After(d.DueDate) {
		return Amounts{}.Normalize()
	}
	return d.UpdatedBase.ApplyRate(d.PenaltyRateApplied)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	MethodTransfer PaymentMethod = "transfer"
	MethodCash     PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool { return m == MethodTransfer || m == MethodCash }

type Payment struct {
	ID        PaymentID
	DueID     DueID
	StudentID StudentID

	Monto     Amounts
	MontoMora Amounts
	Descuento Amounts

	Referencia    string
	EvidenceRef   string // opaque blob reference, optional for cash
	Observaciones string
	Method        PaymentMethod

	Estado   Estado
	Snapshot PaymentSnapshot

	RecordedBy      string
	ReviewedBy      string
	RejectionReason string

	CreatedAt  time.Time
	ReportedAt *time.Time
	ResolvedAt *time.Time
}
