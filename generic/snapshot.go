package generic

import "time"

// =============================================================================
// PAYMENT SNAPSHOT - Values frozen into a payment when it is recorded
// =============================================================================

// PaymentSnapshot is an immutable copy of what a payment was priced at.
// It is written once with the payment and never updated, so later
// configuration changes or propagation runs cannot alter it.
type PaymentSnapshot struct {
	Month              time.Month
	Year               int
	PriceApplied       Amounts
	PenaltyApplied     Amounts
	PenaltyRateApplied BasisPoints
	CutoffDayApplied   int
	ConfigVersion      int64
	EvaluatedOn        TimePoint
}

// TakeSnapshot prices a due against the live configuration as of a date.
// The due's current UpdatedBase is used, not its original BaseApplied.
func TakeSnapshot(due MonthlyDue, cfg PaymentConfiguration, asOf TimePoint) PaymentSnapshot {
	return PaymentSnapshot{
		Month:              due.Month,
		Year:               due.Year,
		PriceApplied:       due.UpdatedBase,
		PenaltyApplied:     ComputeMoraAmounts(due.UpdatedBase, cfg.CutoffDay, cfg.PenaltyRate, asOf, due.Month, due.Year),
		PenaltyRateApplied: cfg.PenaltyRate,
		CutoffDayApplied:   cfg.CutoffDay,
		ConfigVersion:      cfg.Version,
		EvaluatedOn:        asOf,
	}
}

// Total is price plus penalty.
func (s PaymentSnapshot) Total() Amounts { return s.PriceApplied.Add(s.PenaltyApplied) }
