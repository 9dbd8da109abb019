package dues_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/generic"
)

func TestSweep_RefreshesLiveMoraAndIsIdempotent(t *testing.T) {
	// GIVEN: Dues generated on September 1st (no mora yet)
	// WHEN: The sweep runs on October 20th, twice
	// THEN: September and October show mora; the second run changes nothing

	env := newTestEnv(t, baseConfig())
	sep := env.dueFor(t, "stu-1", time.September, 2025)
	nov := env.dueFor(t, "stu-1", time.November, 2025)
	require.True(t, sep.LiveMora.IsZero())

	env.clock.Set(2025, time.October, 20)
	run, err := env.engine.Sweeper.Run(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, generic.SweepCompleted, run.Status)
	assert.Equal(t, 10, run.Scanned)
	assert.Equal(t, 10, run.Updated) // MoraAsOf moves for every due

	assert.Equal(t, generic.NewAmounts(250, 8750), env.reload(t, sep.ID).LiveMora)
	assert.True(t, env.reload(t, nov.ID).LiveMora.IsZero())
	assert.Equal(t, generic.NewTimePoint(2025, time.October, 20), env.reload(t, nov.ID).MoraAsOf)

	again, err := env.engine.Sweeper.Run(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)

	history, err := env.engine.Sweeper.History(env.ctx, generic.SweepCompleted)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSweep_SkipsFinalDuesAndActivePayments(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	paid := env.dueFor(t, "stu-1", time.September, 2025)
	inFlight := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{DueID: paid.ID, Method: generic.MethodCash})
	require.NoError(t, err)
	_, err = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: inFlight.ID})
	require.NoError(t, err)
	paidBefore := env.reload(t, paid.ID)
	inFlightBefore := env.reload(t, inFlight.ID)

	env.clock.Set(2025, time.December, 1)
	run, err := env.engine.Sweeper.Run(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, run.Scanned)

	assert.Equal(t, paidBefore, env.reload(t, paid.ID))
	assert.Equal(t, inFlightBefore, env.reload(t, inFlight.ID))
}

func TestSweep_FailsWithoutConfiguration(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	bare := dues.NewEngine(newEmptyStore(), dues.WithClock(env.clock.Now))

	run, err := bare.Sweeper.Run(env.ctx)
	assert.ErrorIs(t, err, generic.ErrConfigurationMissing)
	assert.Equal(t, generic.SweepFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}
