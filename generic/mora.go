package generic

import "time"

// =============================================================================
// MORA - One-time flat late penalty
// =============================================================================

// DueDateFor returns the due date of a billing month: day min(cutoff, 28).
// Cutoffs below 1 are treated as 1.
func DueDateFor(year int, month time.Month, cutoffDay int) TimePoint {
	if cutoffDay > MaxCutoffDay {
		cutoffDay = MaxCutoffDay
	}
	if cutoffDay < MinCutoffDay {
		cutoffDay = MinCutoffDay
	}
	return NewTimePoint(year, month, cutoffDay)
}

// ComputeMora returns the penalty for a single-currency base amount.
//
// The penalty is flat: zero on or before the due date, base*rate afterwards,
// however late the evaluation date is. Rounding is half-up to the minor unit.
func ComputeMora(base Money, cutoffDay int, rate BasisPoints, asOf TimePoint, month time.Month, year int) Money {
	if !asOf.After(DueDateFor(year, month, cutoffDay)) {
		return Money{Currency: base.Currency}
	}
	return base.ApplyRate(rate)
}

// ComputeMoraAmounts applies ComputeMora to each currency independently.
func ComputeMoraAmounts(base Amounts, cutoffDay int, rate BasisPoints, asOf TimePoint, month time.Month, year int) Amounts {
	return Amounts{
		USD: ComputeMora(base.USD, cutoffDay, rate, asOf, month, year),
		VES: ComputeMora(base.VES, cutoffDay, rate, asOf, month, year),
	}
}
