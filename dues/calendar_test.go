package dues_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/generic"
)

func TestPeriodForEffectiveDate(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	require.NoError(t, env.store.SavePeriod(env.ctx, schoolYear("2026-2027", 2026)))

	tests := []struct {
		name string
		date generic.TimePoint
		want generic.PeriodID
	}{
		{"early in the year prepares the cycle starting that year", generic.NewTimePoint(2025, time.March, 10), "2025-2026"},
		{"day before start month", generic.NewTimePoint(2025, time.August, 31), "2025-2026"},
		{"start month prepares the following cycle", generic.NewTimePoint(2025, time.September, 1), "2026-2027"},
		{"mid cycle", generic.NewTimePoint(2025, time.November, 5), "2026-2027"},
		{"next spring", generic.NewTimePoint(2026, time.February, 1), "2026-2027"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := env.engine.Calendar.PeriodForEffectiveDate(env.ctx, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ID)
		})
	}

	_, err := env.engine.Calendar.PeriodForEffectiveDate(env.ctx, generic.NewTimePoint(2027, time.January, 1))
	assert.ErrorIs(t, err, generic.ErrPeriodNotFound)
}

func TestCalendar_MonthsFor(t *testing.T) {
	env := newTestEnv(t, baseConfig())

	months, err := env.engine.Calendar.MonthsFor(env.ctx, periodID)
	require.NoError(t, err)
	require.Len(t, months, 10)
	assert.Equal(t, time.September, months[0].Month)
	assert.Equal(t, generic.NewAmounts(5000, 175000), months[0].DefaultPrice)

	again, err := env.engine.Calendar.MonthsFor(env.ctx, periodID)
	require.NoError(t, err)
	assert.Equal(t, months, again)
}

func TestCalendar_SyncPeriod(t *testing.T) {
	env := newTestEnv(t, baseConfig())

	p := schoolYear("2027-2028", 0)
	for i := range p.Months {
		p.Months[i].Year += 2027
	}
	saved, err := env.engine.Calendar.SyncPeriod(env.ctx, admin, p)
	require.NoError(t, err)
	assert.Equal(t, 2027, saved.StartYear)

	_, err = env.engine.Calendar.SyncPeriod(env.ctx, student, p)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	dup := schoolYear("dup", 2030)
	dup.Months = append(dup.Months, dup.Months[0])
	_, err = env.engine.Calendar.SyncPeriod(env.ctx, admin, dup)
	assert.ErrorIs(t, err, generic.ErrInvalidConfiguration)
}
