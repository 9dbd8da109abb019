package generic

import "time"

// =============================================================================
// PRICE PROPAGATION - Pure per-due repricing decision
// =============================================================================

// PropagationReport summarizes one propagation run.
type PropagationReport struct {
	ConfigVersion   int64
	Policy          PricingPolicy
	EffectivePeriod PeriodID // empty when EffectiveFrom is unset or its period is unknown
	Scanned         int      // outstanding dues considered
	Updated         int      // dues rewritten
	Skipped         int      // frozen, out of scope or already current
	Stale           []DueID  // dues that should have changed but could not be written
}

// NeedsReprice reports whether a due should absorb cfg under retroactive pricing.
// Final dues, dues generated under frozen pricing and dues already at cfg's
// version are left alone; a frozen live configuration changes nothing.
func NeedsReprice(due MonthlyDue, cfg PaymentConfiguration) bool {
	if due.Estado.IsFinal() {
		return false
	}
	if cfg.PricingPolicy != PolicyRetroactive || due.PricingPolicy != PolicyRetroactive {
		return false
	}
	return due.ConfigVersion < cfg.Version
}

// Reprice returns the due refreshed from its billing month under cfg.
//
// BaseApplied is kept as the original reference value. UpdatedBase, the penalty
// rate, due date and config version follow cfg. The cached live mora is only
// refreshed when the due has no payment in progress, since that payment's mora
// is already frozen in its snapshot.
func Reprice(due MonthlyDue, month BillingMonth, cfg PaymentConfiguration, hasActivePayment bool, today TimePoint, now time.Time) MonthlyDue {
	due.UpdatedBase = month.DefaultPrice
	due.PenaltyRateApplied = cfg.PenaltyRate
	due.DueDate = DueDateFor(due.Year, due.Month, cfg.CutoffDay)
	due.ConfigVersion = cfg.Version
	if !hasActivePayment {
		due.LiveMora = due.MoraAt(today)
		due.MoraAsOf = today
	}
	due.UpdatedAt = now
	return due
}
