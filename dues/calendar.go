package dues

import (
	"context"
	"fmt"

	"github.com/warp/dues-engine/generic"
)

// Calendar resolves periods and billing months against the store.
type Calendar struct {
	*Deps
}

// MonthsFor returns the billing months of a stored period priced with the
// live configuration.
func (c *Calendar) MonthsFor(ctx context.Context, periodID generic.PeriodID) ([]generic.BillingMonth, error) {
	period, err := c.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.Store.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	return c.Deps.Calendar.MonthsFor(period, cfg), nil
}

// PeriodForEffectiveDate returns the period a configuration effective on date
// applies to. See generic.Calendar.PeriodStartYearFor for the shift rule.
func (c *Calendar) PeriodForEffectiveDate(ctx context.Context, date generic.TimePoint) (generic.AcademicPeriod, error) {
	return periodForEffectiveDate(ctx, c.Store, c.Deps.Calendar, date)
}

// periodForEffectiveDate resolves date against src, which may be a transaction.
func periodForEffectiveDate(ctx context.Context, src generic.Store, cal generic.Calendar, date generic.TimePoint) (generic.AcademicPeriod, error) {
	startYear := cal.PeriodStartYearFor(date)
	periods, err := src.ListPeriods(ctx)
	if err != nil {
		return generic.AcademicPeriod{}, err
	}
	for _, p := range periods {
		if p.StartYear == startYear {
			return p, nil
		}
	}
	return generic.AcademicPeriod{}, fmt.Errorf("no period starting in %d for %s: %w", startYear, date, generic.ErrPeriodNotFound)
}

// SyncPeriod stores a period received from the academic-structure service.
func (c *Calendar) SyncPeriod(ctx context.Context, actor generic.Actor, p generic.AcademicPeriod) (generic.AcademicPeriod, error) {
	if !actor.Privileged {
		return generic.AcademicPeriod{}, generic.ErrForbidden
	}
	if p.ID == "" || len(p.Months) == 0 {
		return generic.AcademicPeriod{}, fmt.Errorf("%w: period needs an id and at least one month", generic.ErrInvalidConfiguration)
	}
	seen := map[[2]int]bool{}
	for i, m := range p.Months {
		if m.Month < 1 || m.Month > 12 || m.Year < 1900 {
			return generic.AcademicPeriod{}, fmt.Errorf("%w: month %d is out of range", generic.ErrInvalidConfiguration, i)
		}
		k := [2]int{m.Year, int(m.Month)}
		if seen[k] {
			return generic.AcademicPeriod{}, fmt.Errorf("%w: month %04d-%02d listed twice", generic.ErrInvalidConfiguration, m.Year, int(m.Month))
		}
		seen[k] = true
		if m.Override != nil {
			o := m.Override.Normalize()
			if err := o.Validate(); err != nil {
				return generic.AcademicPeriod{}, err
			}
			p.Months[i].Override = &o
		}
	}
	p.StartYear = generic.PeriodStartYearOf(generic.AcademicPeriod{Months: p.Months})
	if err := c.Store.SavePeriod(ctx, p); err != nil {
		return generic.AcademicPeriod{}, err
	}
	c.logger().Info("academic period synced", "period", p.ID, "months", len(p.Months), "start_year", p.StartYear)
	return p, nil
}
