package dues_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/generic/store"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_ReportThenApprove(t *testing.T) {
	// GIVEN: An October due of 50.00 / 1750.00, cutoff 15, mora 5%
	// WHEN: The representative reports payment on October 20th
	// THEN: The snapshot freezes mora 2.50 / 87.50, both records end reportado,
	//       and approval moves both to pagado

	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	env.clock.Set(2025, time.October, 20)

	payment, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID, Referencia: "REF-001"})
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPendiente, payment.Estado)
	assert.Equal(t, generic.NewAmounts(250, 8750), payment.Snapshot.PenaltyApplied)
	assert.Equal(t, "2.50", payment.Snapshot.PenaltyApplied.USD.Major())
	assert.Equal(t, "87.50", payment.Snapshot.PenaltyApplied.VES.Major())
	assert.Equal(t, generic.NewAmounts(5000, 175000), payment.Snapshot.PriceApplied)
	assert.Equal(t, 15, payment.Snapshot.CutoffDayApplied)
	assert.Equal(t, generic.NewAmounts(5250, 183750), payment.Monto)
	assert.Equal(t, generic.EstadoReportado, env.reload(t, due.ID).Estado)

	payment, err = env.engine.Workflow.Report(env.ctx, student, payment.ID, "blob://evidence-1", "")
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoReportado, payment.Estado)
	assert.Equal(t, "blob://evidence-1", payment.EvidenceRef)
	assert.NotNil(t, payment.ReportedAt)
	assert.Equal(t, generic.EstadoReportado, env.reload(t, due.ID).Estado)

	payment, err = env.engine.Workflow.Approve(env.ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPagado, payment.Estado)
	assert.Equal(t, admin.ID, payment.ReviewedBy)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

func TestScenario_EarlyPayment_NoMora(t *testing.T) {
	// GIVEN: Cutoff day 15 and a 25% penalty
	// WHEN: Reporting on the 10th
	// THEN: Mora is zero
	cfg := baseConfig()
	cfg.PenaltyRate = 2500
	env := newTestEnv(t, cfg)
	due := env.dueFor(t, "stu-1", time.October, 2025)
	env.clock.Set(2025, time.October, 10)

	payment, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	assert.True(t, payment.Snapshot.PenaltyApplied.IsZero())
	assert.True(t, payment.MontoMora.IsZero())
	assert.Equal(t, generic.NewAmounts(5000, 175000), payment.Monto)
}

func TestScenario_RejectionCycle(t *testing.T) {
	// GIVEN: A reported payment
	// WHEN: Staff reject it and the representative pays again
	// THEN: The due reverts to pendiente, a second payment row is created,
	//       and only one payment is ever non-terminal

	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	env.clock.Set(2025, time.October, 12)

	first, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	_, err = env.engine.Workflow.Report(env.ctx, student, first.ID, "blob://blurry", "")
	require.NoError(t, err)

	rejected, err := env.engine.Workflow.RejectDue(env.ctx, admin, due.ID, "comprobante ilegible")
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoAnulado, rejected.Estado)
	assert.Equal(t, "comprobante ilegible", rejected.RejectionReason)
	assert.Equal(t, generic.EstadoPendiente, env.reload(t, due.ID).Estado)

	second, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	nonTerminal := 0
	for _, p := range payments {
		if !p.Estado.IsFinal() {
			nonTerminal++
		}
	}
	assert.Equal(t, 1, nonTerminal)

	_, err = env.engine.Workflow.Report(env.ctx, student, second.ID, "blob://clear", "")
	require.NoError(t, err)
	_, err = env.engine.Workflow.ApproveDue(env.ctx, admin, due.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestRecord_SecondPaymentWhileInProgress_Rejected(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)

	_, err = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	assert.ErrorIs(t, err, generic.ErrPaymentInProgress)
}

func TestRecord_SettledDue_Rejected(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{DueID: due.ID, Method: generic.MethodCash})
	require.NoError(t, err)

	_, err = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	assert.ErrorIs(t, err, generic.ErrDueAlreadySettled)
	var stateErr *generic.DueStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, generic.EstadoPagado, stateErr.Estado)
}

func TestRecord_VoidedDue_Rejected(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Workflow.VoidDue(env.ctx, admin, due.ID, "retiro del estudiante")
	require.NoError(t, err)

	_, err = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	assert.ErrorIs(t, err, generic.ErrDueVoided)
}

func TestRecord_UnknownDue(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	_, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: "due-missing"})
	assert.ErrorIs(t, err, generic.ErrDueNotFound)
}

func TestRecord_PrivilegedCash_SettlesImmediately(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	payment, err := env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{DueID: due.ID, Method: generic.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPagado, payment.Estado)
	assert.Empty(t, payment.EvidenceRef)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

func TestRecord_NonPrivilegedCash_StaysPending(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	payment, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID, Method: generic.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPendiente, payment.Estado)
}

func TestRecord_DiscountAndExplicitAmount(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	discounted, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{
		DueID:     due.ID,
		Descuento: generic.NewAmounts(1000, 35000),
	})
	require.NoError(t, err)
	assert.Equal(t, generic.NewAmounts(4000, 140000), discounted.Monto)

	due2 := env.dueFor(t, "stu-1", time.November, 2025)
	explicit, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{
		DueID: due2.ID,
		Monto: ptr(generic.NewAmounts(5000, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, generic.NewAmounts(5000, 0), explicit.Monto)

	_, err = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{
		DueID:     env.dueFor(t, "stu-1", time.December, 2025).ID,
		Descuento: generic.NewAmounts(-1, 0),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestRecord_UsesUpdatedBaseAndLiveRate(t *testing.T) {
	// GIVEN: A retroactive price increase after generation
	// WHEN: Recording a late payment
	// THEN: The snapshot uses the updated base and the new penalty rate

	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, _, err := env.engine.Config.Update(env.ctx, admin, generic.ConfigUpdate{
		BasePrice:   ptr(generic.NewAmounts(6000, 210000)),
		PenaltyRate: ptr(generic.BasisPoints(1000)),
	})
	require.NoError(t, err)

	env.clock.Set(2025, time.October, 16)
	payment, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	assert.Equal(t, generic.NewAmounts(6000, 210000), payment.Snapshot.PriceApplied)
	assert.Equal(t, generic.NewAmounts(600, 21000), payment.Snapshot.PenaltyApplied)
	assert.Equal(t, generic.BasisPoints(1000), payment.Snapshot.PenaltyRateApplied)
	assert.Equal(t, int64(2), payment.Snapshot.ConfigVersion)
}

func TestRecord_ConcurrentReports_OnlyOneWins(t *testing.T) {
	// GIVEN: Two representatives submit for the same due at once
	// THEN: Exactly one payment is created

	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrPaymentInProgress)
	}
	assert.Equal(t, 1, succeeded)

	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// =============================================================================
// RECORD + TRANSITION IN ONE TRANSACTION
// =============================================================================

func TestRecord_ThenReport_ReportsInOneStep(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	payment, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{
		DueID:       due.ID,
		Referencia:  "REF-1",
		EvidenceRef: "blob://x",
		Then:        generic.EventReport,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoReportado, payment.Estado)
	require.NotNil(t, payment.ReportedAt)
	assert.Equal(t, generic.EstadoReportado, env.payment(t, payment.ID).Estado)
	assert.Equal(t, generic.EstadoReportado, env.reload(t, due.ID).Estado)
}

func TestRecord_ThenSettle_TransferSettlesImmediately(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	payment, err := env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{
		DueID:      due.ID,
		Referencia: "TRF-9",
		Then:       generic.EventSettle,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPagado, payment.Estado)
	assert.Equal(t, admin.ID, payment.ReviewedBy)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

func TestRecord_ThenSettle_RequiresPrivilege(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID, Then: generic.EventSettle})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, generic.EstadoPendiente, env.reload(t, due.ID).Estado)
}

func TestRecord_ThenApprove_Refused(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{DueID: due.ID, Then: generic.EventApprove})
	var te *generic.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, generic.EventApprove, te.Event)

	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecord_SettleAfterReport_LeavesReportUntouched(t *testing.T) {
	// GIVEN: A representative has already reported a transfer
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	reported, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{
		DueID: due.ID, Referencia: "REF-1", Then: generic.EventReport,
	})
	require.NoError(t, err)

	// WHEN: Staff try to record and settle a payment of their own
	_, err = env.engine.Recorder.Record(env.ctx, admin, dues.RecordInput{DueID: due.ID, Then: generic.EventSettle})

	// THEN: Nothing of the settlement is committed
	assert.ErrorIs(t, err, generic.ErrPaymentInProgress)
	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, reported.ID, payments[0].ID)
	assert.Equal(t, generic.EstadoReportado, payments[0].Estado)
	assert.Equal(t, generic.EstadoReportado, env.reload(t, due.ID).Estado)
}

// brokenDueWrites fails every due update made inside a transaction once armed.
type brokenDueWrites struct {
	*store.Memory
	armed bool
}

func (b *brokenDueWrites) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return b.Memory.WithTx(ctx, func(tx generic.Store) error {
		if b.armed {
			tx = failingDueUpdate{tx}
		}
		return fn(tx)
	})
}

type failingDueUpdate struct {
	generic.Store
}

func (failingDueUpdate) UpdateDue(context.Context, generic.MonthlyDue) (generic.MonthlyDue, error) {
	return generic.MonthlyDue{}, errors.New("disk full")
}

func TestRecord_ThenSettle_RollsBackPaymentWhenDueWriteFails(t *testing.T) {
	// GIVEN: A store whose due writes start failing after setup
	ctx := context.Background()
	broken := &brokenDueWrites{Memory: store.NewMemory()}
	engine := dues.NewEngine(broken, dues.WithClock(func() time.Time {
		return time.Date(2025, time.October, 20, 10, 0, 0, 0, time.UTC)
	}))
	_, err := engine.Config.Seed(ctx, baseConfig())
	require.NoError(t, err)
	require.NoError(t, broken.SavePeriod(ctx, schoolYear(periodID, 2025)))
	all, err := engine.Generator.GenerateForStudent(ctx, "stu-1", periodID)
	require.NoError(t, err)
	due := all[1]
	broken.armed = true

	// WHEN: Staff settle a transfer against the due
	_, err = engine.Recorder.Record(ctx, admin, dues.RecordInput{DueID: due.ID, Then: generic.EventSettle})

	// THEN: The payment row is rolled back with the due
	require.Error(t, err)
	payments, err := broken.ListPayments(ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
	reloaded, err := broken.GetDue(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPendiente, reloaded.Estado)
}
