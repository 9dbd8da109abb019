package dues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/dues-engine/generic"
)

// =============================================================================
// PRICE-UPDATE PROPAGATOR
// =============================================================================

// Propagator rewrites outstanding dues after a configuration change.
type Propagator struct {
	*Deps
}

// Propagate applies cfg to every pendiente/reportado due in periods at or after
// the period cfg.EffectiveFrom maps to (reported as EffectivePeriod). It must run inside the transaction that
// saved cfg; tx is that transaction's store.
//
// Under a frozen live policy nothing is rewritten. Under a retroactive policy,
// only dues generated under retroactive pricing absorb the change. A due that
// is locked by a payment in flight, or whose row version moved, is recorded as
// stale and the run continues; the returned error then wraps
// generic.ErrPropagationPartialFailure. Any other failure aborts the run.
func (p *Propagator) Propagate(ctx context.Context, tx generic.Store, cfg generic.PaymentConfiguration) (*generic.PropagationReport, error) {
	report := &generic.PropagationReport{ConfigVersion: cfg.Version, Policy: cfg.PricingPolicy}

	filter := generic.DueFilter{Estados: []generic.Estado{generic.EstadoPendiente, generic.EstadoReportado}}
	if !cfg.EffectiveFrom.IsZero() {
		// an effective period not synced yet still scopes by its start year
		filter.MinPeriodStartYear = p.Deps.Calendar.PeriodStartYearFor(cfg.EffectiveFrom)
		period, err := periodForEffectiveDate(ctx, tx, p.Deps.Calendar, cfg.EffectiveFrom)
		switch {
		case err == nil:
			report.EffectivePeriod = period.ID
			filter.MinPeriodStartYear = period.StartYear
		case !errors.Is(err, generic.ErrPeriodNotFound):
			return nil, fmt.Errorf("resolve effective period: %w", err)
		}
	}
	outstanding, err := tx.ListDues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list outstanding dues: %w", err)
	}
	report.Scanned = len(outstanding)

	if cfg.PricingPolicy != generic.PolicyRetroactive {
		report.Skipped = len(outstanding)
		return report, nil
	}

	periods := map[generic.PeriodID]generic.AcademicPeriod{}
	causes := map[generic.DueID]error{}
	now, today := p.now(), p.today()

	for _, due := range outstanding {
		if !generic.NeedsReprice(due, cfg) {
			report.Skipped++
			continue
		}
		period, ok := periods[due.PeriodID]
		if !ok {
			period, err = tx.GetPeriod(ctx, due.PeriodID)
			if err != nil {
				return nil, fmt.Errorf("load period %s: %w", due.PeriodID, err)
			}
			periods[due.PeriodID] = period
		}

		err := p.repriceOne(ctx, tx, due, period, cfg, today, now)
		switch {
		case err == nil:
			report.Updated++
		case errors.Is(err, generic.ErrConcurrentModification):
			report.Stale = append(report.Stale, due.ID)
			causes[due.ID] = err
		default:
			return nil, err
		}
	}

	if len(report.Stale) > 0 {
		p.logger().Warn("price propagation left stale dues",
			"version", cfg.Version, "stale", len(report.Stale), "updated", report.Updated)
		return report, &generic.PropagationError{ConfigVersion: cfg.Version, StaleDues: report.Stale, Causes: causes}
	}
	return report, nil
}

func (p *Propagator) repriceOne(ctx context.Context, tx generic.Store, due generic.MonthlyDue, period generic.AcademicPeriod, cfg generic.PaymentConfiguration, today generic.TimePoint, now time.Time) error {
	unlock, ok := p.Locks.TryLock(string(due.ID))
	if !ok {
		return fmt.Errorf("due %s busy: %w", due.ID, generic.ErrConcurrentModification)
	}
	defer unlock()

	active, err := tx.ActivePayment(ctx, due.ID)
	if err != nil {
		return err
	}
	month, found := p.Deps.Calendar.MonthFor(period, cfg, due.Month, due.Year)
	if !found {
		month = generic.BillingMonth{Month: due.Month, Year: due.Year, DefaultPrice: cfg.BasePrice}
	}
	_, err = tx.UpdateDue(ctx, generic.Reprice(due, month, cfg, active != nil, today, now))
	return err
}
