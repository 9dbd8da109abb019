package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/generic"
)

func TestCalendar_PeriodStartYearFor(t *testing.T) {
	// The period-shift rule: an effective date before the start month maps to
	// the period starting that year, otherwise to the one starting next year.
	cal := generic.NewCalendar(time.September)

	tests := []struct {
		date generic.TimePoint
		want int
	}{
		{generic.NewTimePoint(2025, time.January, 1), 2025},
		{generic.NewTimePoint(2025, time.August, 31), 2025},
		{generic.NewTimePoint(2025, time.September, 1), 2026},
		{generic.NewTimePoint(2025, time.December, 31), 2026},
	}
	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, cal.PeriodStartYearFor(tt.date))
		})
	}
}

func TestCalendar_PeriodStartYearFor_CustomStartMonth(t *testing.T) {
	cal := generic.NewCalendar(time.March)
	assert.Equal(t, 2025, cal.PeriodStartYearFor(generic.NewTimePoint(2025, time.February, 10)))
	assert.Equal(t, 2026, cal.PeriodStartYearFor(generic.NewTimePoint(2025, time.March, 1)))

	assert.Equal(t, time.September, generic.NewCalendar(0).StartMonth, "invalid month falls back to default")
}

func TestCalendar_MonthsFor_OrderedWithOverrides(t *testing.T) {
	cal := generic.NewCalendar(time.September)
	override := generic.NewAmounts(100, 3500)
	period := generic.AcademicPeriod{
		ID: "p",
		Months: []generic.PeriodMonth{
			{Month: time.January, Year: 2026},
			{Month: time.October, Year: 2025, Override: &override},
			{Month: time.September, Year: 2025},
		},
	}
	cfg := generic.PaymentConfiguration{BasePrice: generic.NewAmounts(5000, 175000)}

	months := cal.MonthsFor(period, cfg)
	require.Len(t, months, 3)
	assert.Equal(t, time.September, months[0].Month)
	assert.Equal(t, time.October, months[1].Month)
	assert.Equal(t, time.January, months[2].Month)
	assert.Equal(t, override, months[1].DefaultPrice)
	assert.True(t, months[1].Overridden)
	assert.Equal(t, cfg.BasePrice, months[2].DefaultPrice)

	// restartable: the input is not mutated and the output repeats
	assert.Equal(t, months, cal.MonthsFor(period, cfg))
	assert.Equal(t, time.January, period.Months[0].Month)
}

func TestPeriodStartYearOf(t *testing.T) {
	p := generic.AcademicPeriod{Months: []generic.PeriodMonth{
		{Month: time.February, Year: 2026},
		{Month: time.September, Year: 2025},
	}}
	assert.Equal(t, 2025, generic.PeriodStartYearOf(p))

	p.StartYear = 2030
	assert.Equal(t, 2030, generic.PeriodStartYearOf(p))
}
