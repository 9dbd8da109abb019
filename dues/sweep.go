package dues

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/metrics"
)

// =============================================================================
// MORA SWEEP - Periodic recomputation of cached live-mora values
// =============================================================================

// Sweeper refreshes LiveMora/MoraAsOf on outstanding dues and catches up
// retroactive dues a previous propagation left stale. Running it twice on the
// same day changes nothing the second time.
type Sweeper struct {
	*Deps
}

// Run sweeps every outstanding due as of today and records the run.
func (s *Sweeper) Run(ctx context.Context) (run generic.SweepRun, err error) {
	start := time.Now()
	run = generic.SweepRun{
		ID:        "sweep-" + uuid.NewString(),
		AsOf:      s.today(),
		Status:    generic.SweepRunning,
		StartedAt: s.now(),
	}
	s.saveRun(ctx, run)

	defer func() {
		metrics.ObserveSweep(err, time.Since(start))
		completed := s.now()
		run.CompletedAt = &completed
		if err != nil {
			run.Status = generic.SweepFailed
			run.Error = err.Error()
			s.logger().Error("mora sweep failed", "run", run.ID, "error", err)
		} else {
			run.Status = generic.SweepCompleted
			s.logger().Info("mora sweep completed", "run", run.ID, "scanned", run.Scanned, "updated", run.Updated)
		}
		s.saveRun(ctx, run)
	}()

	cfg, err := s.Store.GetConfig(ctx)
	if err != nil {
		return run, err
	}
	outstanding, err := s.Store.ListDues(ctx, generic.DueFilter{
		Estados: []generic.Estado{generic.EstadoPendiente, generic.EstadoReportado},
	})
	if err != nil {
		return run, fmt.Errorf("list outstanding dues: %w", err)
	}
	run.Scanned = len(outstanding)

	for _, due := range outstanding {
		updated, err := s.sweepOne(ctx, due.ID, cfg, run.AsOf)
		if err != nil {
			return run, fmt.Errorf("due %s: %w", due.ID, err)
		}
		if updated {
			run.Updated++
		}
	}
	return run, nil
}

// sweepOne refreshes one due under its lock. Busy dues are skipped.
func (s *Sweeper) sweepOne(ctx context.Context, id generic.DueID, cfg generic.PaymentConfiguration, asOf generic.TimePoint) (bool, error) {
	unlock, ok := s.Locks.TryLock(string(id))
	if !ok {
		return false, nil
	}
	defer unlock()

	updated := false
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		due, err := tx.GetDue(ctx, id)
		if err != nil {
			return err
		}
		if due.Estado.IsFinal() {
			return nil
		}
		active, err := tx.ActivePayment(ctx, id)
		if err != nil {
			return err
		}

		next := due
		switch {
		case generic.NeedsReprice(due, cfg) && s.inScope(ctx, tx, due, cfg):
			period, err := tx.GetPeriod(ctx, due.PeriodID)
			if err != nil {
				return err
			}
			month, found := s.Deps.Calendar.MonthFor(period, cfg, due.Month, due.Year)
			if !found {
				month = generic.BillingMonth{Month: due.Month, Year: due.Year, DefaultPrice: cfg.BasePrice}
			}
			next = generic.Reprice(due, month, cfg, active != nil, asOf, s.now())
		case active == nil:
			mora := due.MoraAt(asOf)
			if mora == due.LiveMora && due.MoraAsOf.Equal(asOf) {
				return nil
			}
			next.LiveMora = mora
			next.MoraAsOf = asOf
			next.UpdatedAt = s.now()
		default:
			// mora is frozen in the active payment's snapshot
			return nil
		}

		if _, err := tx.UpdateDue(ctx, next); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

// inScope reports whether due's period is covered by cfg's effective date.
func (s *Sweeper) inScope(ctx context.Context, tx generic.Store, due generic.MonthlyDue, cfg generic.PaymentConfiguration) bool {
	if cfg.EffectiveFrom.IsZero() {
		return true
	}
	period, err := tx.GetPeriod(ctx, due.PeriodID)
	if err != nil {
		return false
	}
	return period.StartYear >= s.Deps.Calendar.PeriodStartYearFor(cfg.EffectiveFrom)
}

// History returns recorded sweep runs, newest first.
func (s *Sweeper) History(ctx context.Context, status generic.SweepStatus) ([]generic.SweepRun, error) {
	if s.SweepRuns == nil {
		return nil, nil
	}
	return s.SweepRuns.ListSweepRuns(ctx, status)
}

func (s *Sweeper) saveRun(ctx context.Context, run generic.SweepRun) {
	if s.SweepRuns == nil {
		return
	}
	if err := s.SweepRuns.SaveSweepRun(ctx, run); err != nil {
		s.logger().Warn("save sweep run failed", "run", run.ID, "error", err)
	}
}
