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
// DUE GENERATOR - Idempotent materialization of monthly dues
// =============================================================================

type Generator struct {
	*Deps
}

// GenerateForStudent creates the dues a student is missing for a period and
// returns the full ordered set. Months already materialized are left as they
// are, so calling it again never duplicates a due.
func (g *Generator) GenerateForStudent(ctx context.Context, studentID generic.StudentID, periodID generic.PeriodID) ([]generic.MonthlyDue, error) {
	var result []generic.MonthlyDue
	var created int
	err := g.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		result, created, err = g.generate(ctx, tx, studentID, periodID)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.afterGenerate(ctx, studentID, periodID, created, len(result)-created)
	return result, nil
}

// GenerateForStudents runs GenerateForStudent for a batch in one transaction.
func (g *Generator) GenerateForStudents(ctx context.Context, studentIDs []generic.StudentID, periodID generic.PeriodID) (map[generic.StudentID][]generic.MonthlyDue, error) {
	result := make(map[generic.StudentID][]generic.MonthlyDue, len(studentIDs))
	counts := make(map[generic.StudentID]int, len(studentIDs))
	err := g.Store.WithTx(ctx, func(tx generic.Store) error {
		for _, id := range studentIDs {
			dues, created, err := g.generate(ctx, tx, id, periodID)
			if err != nil {
				return fmt.Errorf("student %s: %w", id, err)
			}
			result[id] = dues
			counts[id] = created
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for id, dues := range result {
		g.afterGenerate(ctx, id, periodID, counts[id], len(dues)-counts[id])
	}
	return result, nil
}

func (g *Generator) generate(ctx context.Context, tx generic.Store, studentID generic.StudentID, periodID generic.PeriodID) ([]generic.MonthlyDue, int, error) {
	if studentID == "" {
		return nil, 0, fmt.Errorf("%w: student id is required", generic.ErrInvalidConfiguration)
	}
	cfg, err := tx.GetConfig(ctx)
	if err != nil {
		return nil, 0, err
	}
	period, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, 0, err
	}

	filter := generic.DueFilter{StudentID: studentID, PeriodID: periodID}
	existing, err := tx.ListDues(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	have := make(map[generic.DueKey]bool, len(existing))
	for _, d := range existing {
		have[d.Key()] = true
	}

	now, today := g.now(), g.today()
	created := 0
	for _, bm := range g.Deps.Calendar.MonthsFor(period, cfg) {
		key := generic.DueKey{StudentID: studentID, PeriodID: periodID, Month: bm.Month, Year: bm.Year}
		if have[key] {
			continue
		}
		due := newDue(key, bm, cfg, today, now)
		if err := tx.CreateDue(ctx, due); err != nil {
			if errors.Is(err, generic.ErrDuplicateDue) {
				continue
			}
			return nil, 0, fmt.Errorf("create due %s: %w", key, err)
		}
		created++
	}

	dues, err := tx.ListDues(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return dues, created, nil
}

func newDue(key generic.DueKey, bm generic.BillingMonth, cfg generic.PaymentConfiguration, today generic.TimePoint, now time.Time) generic.MonthlyDue {
	due := generic.MonthlyDue{
		ID:                 newDueID(),
		StudentID:          key.StudentID,
		PeriodID:           key.PeriodID,
		Month:              key.Month,
		Year:               key.Year,
		BaseApplied:        bm.DefaultPrice,
		UpdatedBase:        bm.DefaultPrice,
		DueDate:            bm.DueDate(cfg.CutoffDay),
		PenaltyRateApplied: cfg.PenaltyRate,
		PricingPolicy:      cfg.PricingPolicy,
		ConfigVersion:      cfg.Version,
		Estado:             generic.EstadoPendiente,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	due.LiveMora = due.MoraAt(today)
	due.MoraAsOf = today
	return due
}

func (g *Generator) afterGenerate(ctx context.Context, studentID generic.StudentID, periodID generic.PeriodID, created, existing int) {
	metrics.AddDuesGenerated(created, existing)
	if created == 0 {
		return
	}
	g.audit(ctx, generic.AuditEntry{
		ActorID: generic.SystemActor.ID,
		Action:  generic.AuditDuesGenerated,
		Payload: map[string]any{
			"student_id": string(studentID),
			"period_id":  string(periodID),
			"created":    created,
		},
	})
	g.logger().Info("dues generated", "student", studentID, "period", periodID, "created", created, "existing", existing)
}
