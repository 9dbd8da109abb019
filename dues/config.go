package dues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/metrics"
)

// =============================================================================
// CONFIGURATION STORE - The single transactional entry point for config changes
// =============================================================================

type ConfigStore struct {
	*Deps
	Propagator *Propagator
}

// Get returns the live configuration.
func (c *ConfigStore) Get(ctx context.Context) (generic.PaymentConfiguration, error) {
	return c.Store.GetConfig(ctx)
}

// Seed installs cfg when no configuration exists yet and returns the live one.
func (c *ConfigStore) Seed(ctx context.Context, cfg generic.PaymentConfiguration) (generic.PaymentConfiguration, error) {
	current, err := c.Store.GetConfig(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, generic.ErrConfigurationMissing) {
		return generic.PaymentConfiguration{}, err
	}
	cfg.BasePrice = cfg.BasePrice.Normalize()
	if err := cfg.Validate(); err != nil {
		return generic.PaymentConfiguration{}, err
	}
	cfg.Version = 0
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = c.now()
	}
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = generic.SystemActor.ID
	}
	saved, err := c.Store.SaveConfig(ctx, cfg)
	if err != nil {
		return generic.PaymentConfiguration{}, fmt.Errorf("seed configuration: %w", err)
	}
	c.logger().Info("payment configuration seeded", "version", saved.Version, "policy", saved.PricingPolicy)
	return saved, nil
}

// Update applies upd to the live configuration and propagates it to
// outstanding dues before returning. Validation happens before anything is
// written; the configuration write and all due rewrites share one transaction.
//
// When some dues could not be rewritten the configuration is still committed
// and the returned error is a *generic.PropagationError listing them.
func (c *ConfigStore) Update(ctx context.Context, actor generic.Actor, upd generic.ConfigUpdate) (generic.PaymentConfiguration, *generic.PropagationReport, error) {
	if !actor.Privileged {
		return generic.PaymentConfiguration{}, nil, generic.ErrForbidden
	}
	start := time.Now()

	var (
		saved   generic.PaymentConfiguration
		report  *generic.PropagationReport
		partial error
	)
	err := c.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}
		next := upd.Apply(current)
		next.BasePrice = next.BasePrice.Normalize()
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedAt = c.now()
		next.UpdatedBy = actor.ID

		saved, err = tx.SaveConfig(ctx, next)
		if err != nil {
			return fmt.Errorf("save configuration: %w", err)
		}

		report, err = c.Propagator.Propagate(ctx, tx, saved)
		if err != nil {
			if errors.Is(err, generic.ErrPropagationPartialFailure) {
				partial = err
				return nil
			}
			return fmt.Errorf("propagate configuration: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.ObservePropagation(err, 0, time.Since(start))
		return generic.PaymentConfiguration{}, nil, err
	}

	stale := 0
	if report != nil {
		stale = len(report.Stale)
	}
	metrics.ObservePropagation(partial, stale, time.Since(start))

	c.audit(ctx, generic.AuditEntry{
		ActorID: actor.ID,
		Action:  generic.AuditConfigUpdated,
		Payload: map[string]any{
			"version":       saved.Version,
			"policy":        string(saved.PricingPolicy),
			"penalty_bp":    int64(saved.PenaltyRate),
			"cutoff_day":    saved.CutoffDay,
			"effectiveFrom": saved.EffectiveFrom.String(),
		},
	})
	c.audit(ctx, generic.AuditEntry{
		ActorID: actor.ID,
		Action:  generic.AuditPricePropagation,
		Payload: map[string]any{
			"version":          saved.Version,
			"effective_period": string(report.EffectivePeriod),
			"scanned":          report.Scanned,
			"updated":          report.Updated,
			"skipped":          report.Skipped,
			"stale":            stale,
		},
	})
	c.logger().Info("payment configuration updated",
		"version", saved.Version,
		"actor", actor.ID,
		"policy", saved.PricingPolicy,
		"updated_dues", report.Updated,
		"stale_dues", stale,
	)
	return saved, report, partial
}
