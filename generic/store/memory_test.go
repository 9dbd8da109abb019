package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/generic/store"
)

func testDue(id generic.DueID, month time.Month) generic.MonthlyDue {
	return generic.MonthlyDue{
		ID:          id,
		StudentID:   "stu-1",
		PeriodID:    "p-2025",
		Month:       month,
		Year:        2025,
		BaseApplied: generic.NewAmounts(5000, 175000),
		UpdatedBase: generic.NewAmounts(5000, 175000),
		Estado:      generic.EstadoPendiente,
	}
}

func TestMemory_ConfigVersioning(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.GetConfig(ctx)
	assert.ErrorIs(t, err, generic.ErrConfigurationMissing)

	saved, err := m.SaveConfig(ctx, generic.PaymentConfiguration{CutoffDay: 15})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// stale writer
	_, err = m.SaveConfig(ctx, generic.PaymentConfiguration{CutoffDay: 10})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	saved.CutoffDay = 10
	saved, err = m.SaveConfig(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
}

func TestMemory_DueKeyUnique(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateDue(ctx, testDue("d1", time.October)))
	err := m.CreateDue(ctx, testDue("d2", time.October))
	assert.ErrorIs(t, err, generic.ErrDuplicateDue)
}

func TestMemory_UpdateDueOptimisticVersion(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateDue(ctx, testDue("d1", time.October)))

	due, err := m.GetDue(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), due.Version)

	due.Estado = generic.EstadoReportado
	updated, err := m.UpdateDue(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// writing from the stale copy fails
	_, err = m.UpdateDue(ctx, due)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateDue(ctx, testDue("d1", time.October)))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.CreateDue(ctx, testDue("d2", time.November)))
		due, err := tx.GetDue(ctx, "d1")
		require.NoError(t, err)
		due.Estado = generic.EstadoAnulado
		_, err = tx.UpdateDue(ctx, due)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.GetDue(ctx, "d2")
	assert.ErrorIs(t, err, generic.ErrDueNotFound)
	due, err := m.GetDue(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPendiente, due.Estado)
}

func TestMemory_PaymentSnapshotWriteOnce(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	original := generic.PaymentSnapshot{Month: time.October, Year: 2025, PriceApplied: generic.NewAmounts(5000, 175000)}
	require.NoError(t, m.CreatePayment(ctx, generic.Payment{ID: "p1", DueID: "d1", Estado: generic.EstadoPendiente, Snapshot: original}))

	p, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	p.Estado = generic.EstadoReportado
	p.Snapshot.PriceApplied = generic.NewAmounts(1, 1)
	require.NoError(t, m.UpdatePayment(ctx, p))

	stored, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoReportado, stored.Estado)
	assert.Equal(t, original, stored.Snapshot)

	active, err := m.ActivePayment(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, generic.PaymentID("p1"), active.ID)
}

func TestMemory_ListDuesFilters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SavePeriod(ctx, generic.AcademicPeriod{ID: "p-2025", StartYear: 2025}))

	require.NoError(t, m.CreateDue(ctx, testDue("d-nov", time.November)))
	require.NoError(t, m.CreateDue(ctx, testDue("d-sep", time.September)))
	paid := testDue("d-oct", time.October)
	paid.Estado = generic.EstadoPagado
	require.NoError(t, m.CreateDue(ctx, paid))

	all, err := m.ListDues(ctx, generic.DueFilter{StudentID: "stu-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, generic.DueID("d-sep"), all[0].ID, "ordered by month")

	open, err := m.ListDues(ctx, generic.DueFilter{Estados: []generic.Estado{generic.EstadoPendiente}})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	later, err := m.ListDues(ctx, generic.DueFilter{MinPeriodStartYear: 2026})
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestMemory_SweepRunsNewestFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	t0 := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveSweepRun(ctx, generic.SweepRun{ID: "a", Status: generic.SweepCompleted, StartedAt: t0}))
	require.NoError(t, m.SaveSweepRun(ctx, generic.SweepRun{ID: "b", Status: generic.SweepFailed, StartedAt: t0.Add(time.Hour)}))

	runs, err := m.ListSweepRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)

	failed, err := m.ListSweepRuns(ctx, generic.SweepFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}
