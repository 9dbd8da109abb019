package dues_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	admin   = generic.Actor{ID: "staff-1", Role: "admin", Privileged: true}
	student = generic.Actor{ID: "rep-1", Role: "representante"}
)

const periodID generic.PeriodID = "2025-2026"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(year int, month time.Month, day int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(year, month, day, 10, 0, 0, 0, time.UTC)
}

type testEnv struct {
	engine *dues.Engine
	store  *store.Memory
	clock  *testClock
	ctx    context.Context
}

// baseConfig is 50.00 USD / 1750.00 VES, 5% mora after the 15th, retroactive.
func baseConfig() generic.PaymentConfiguration {
	return generic.PaymentConfiguration{
		BasePrice:     generic.NewAmounts(5000, 175000),
		PenaltyRate:   500,
		CutoffDay:     15,
		PricingPolicy: generic.PolicyRetroactive,
		EffectiveFrom: generic.NewTimePoint(2025, time.March, 1),
		Instructions:  "Transferencia a la cuenta del colegio",
	}
}

// schoolYear returns September..June starting in startYear.
func schoolYear(id generic.PeriodID, startYear int) generic.AcademicPeriod {
	p := generic.AcademicPeriod{ID: id, Name: string(id), StartYear: startYear}
	for i := 0; i < 10; i++ {
		m := time.Month((int(time.September)-1+i)%12 + 1)
		y := startYear
		if m < time.September {
			y++
		}
		p.Months = append(p.Months, generic.PeriodMonth{Month: m, Year: y})
	}
	return p
}

func newTestEnv(t *testing.T, cfg generic.PaymentConfiguration) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	clock := &testClock{}
	clock.Set(2025, time.September, 1)

	engine := dues.NewEngine(mem, dues.WithClock(clock.Now))
	ctx := context.Background()

	_, err := engine.Config.Seed(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, mem.SavePeriod(ctx, schoolYear(periodID, 2025)))

	return &testEnv{engine: engine, store: mem, clock: clock, ctx: ctx}
}

// dueFor generates the student's dues and returns the one for month/year.
func (e *testEnv) dueFor(t *testing.T, studentID generic.StudentID, month time.Month, year int) generic.MonthlyDue {
	t.Helper()
	all, err := e.engine.Generator.GenerateForStudent(e.ctx, studentID, periodID)
	require.NoError(t, err)
	for _, d := range all {
		if d.Month == month && d.Year == year {
			return d
		}
	}
	t.Fatalf("no due for %s %d-%02d", studentID, year, month)
	return generic.MonthlyDue{}
}

func (e *testEnv) reload(t *testing.T, id generic.DueID) generic.MonthlyDue {
	t.Helper()
	d, err := e.store.GetDue(e.ctx, id)
	require.NoError(t, err)
	return d
}

func (e *testEnv) payment(t *testing.T, id generic.PaymentID) generic.Payment {
	t.Helper()
	p, err := e.store.GetPayment(e.ctx, id)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }

func newEmptyStore() *store.Memory { return store.NewMemory() }
