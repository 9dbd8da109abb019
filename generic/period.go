package generic

import (
	"sort"
	"time"
)

// =============================================================================
// BILLING MONTH - Derived, never persisted
// =============================================================================

// BillingMonth is one month to bill within a period, with its default price.
type BillingMonth struct {
	Month        time.Month
	Year         int
	DefaultPrice Amounts
	Overridden   bool // price came from the period, not the configuration
}

// DueDate returns the due date for this month under a cutoff day.
func (b BillingMonth) DueDate(cutoffDay int) TimePoint { return DueDateFor(b.Year, b.Month, cutoffDay) }

// =============================================================================
// CALENDAR - Period months and the period-shift rule
// =============================================================================

// DefaultStartMonth is the first billing month of a school year.
const DefaultStartMonth = time.September

// Calendar derives billing months from academic periods.
type Calendar struct {
	// StartMonth is the month a new academic period begins.
	StartMonth time.Month
}

func NewCalendar(startMonth time.Month) Calendar {
	if startMonth < time.January || startMonth > time.December {
		startMonth = DefaultStartMonth
	}
	return Calendar{StartMonth: startMonth}
}

// MonthsFor returns the period's billing months in chronological order.
// Months without an override fall back to the configuration's base price.
// The result depends only on its inputs, so repeated calls are identical.
func (c Calendar) MonthsFor(period AcademicPeriod, cfg PaymentConfiguration) []BillingMonth {
	months := make([]BillingMonth, 0, len(period.Months))
	for _, pm := range period.Months {
		bm := BillingMonth{Month: pm.Month, Year: pm.Year, DefaultPrice: cfg.BasePrice}
		if pm.Override != nil {
			bm.DefaultPrice = pm.Override.Normalize()
			bm.Overridden = true
		}
		months = append(months, bm)
	}
	sort.SliceStable(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	return months
}

// MonthFor finds one billing month of a period.
func (c Calendar) MonthFor(period AcademicPeriod, cfg PaymentConfiguration, month time.Month, year int) (BillingMonth, bool) {
	for _, bm := range c.MonthsFor(period, cfg) {
		if bm.Month == month && bm.Year == year {
			return bm, true
		}
	}
	return BillingMonth{}, false
}

// PeriodStartYearFor maps a date to the start year of the period it prepares.
//
// A date before the start month belongs to the period starting that same year;
// a date in or after the start month prepares the period starting next year.
// With a September start, 2025-03-10 maps to 2025 and 2025-10-01 maps to 2026.
func (c Calendar) PeriodStartYearFor(date TimePoint) int {
	if date.Month() < c.StartMonth {
		return date.Year()
	}
	return date.Year() + 1
}

// PeriodStartYearOf returns the start year of a period, deriving it from its
// first billing month when StartYear is unset.
func PeriodStartYearOf(p AcademicPeriod) int {
	if p.StartYear != 0 || len(p.Months) == 0 {
		return p.StartYear
	}
	first := p.Months[0]
	for _, m := range p.Months[1:] {
		if m.Year < first.Year || (m.Year == first.Year && m.Month < first.Month) {
			first = m
		}
	}
	return first.Year
}
