package dues_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/generic"
)

func recordReported(t *testing.T, env *testEnv, month time.Month, year int) (generic.MonthlyDue, generic.Payment) {
	t.Helper()
	due := env.dueFor(t, "stu-1", month, year)
	p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	p, err = env.engine.Workflow.Report(env.ctx, student, p.ID, "blob://x", "REF")
	require.NoError(t, err)
	return due, p
}

func TestWorkflow_IllegalTransition_NamesStateAndAllowed(t *testing.T) {
	// GIVEN: A pendiente payment (not yet reported)
	// WHEN: Staff try to approve it
	// THEN: The error states the current estado and the legal moves

	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)

	_, err = env.engine.Workflow.Approve(env.ctx, admin, p.ID)
	require.ErrorIs(t, err, generic.ErrInvalidTransition)
	var te *generic.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, generic.EstadoPendiente, te.Current)
	assert.Equal(t, generic.EventApprove, te.Event)
	assert.Equal(t, []generic.Move{
		{Event: generic.EventReport, To: generic.EstadoReportado},
		{Event: generic.EventSettle, To: generic.EstadoPagado},
		{Event: generic.EventVoid, To: generic.EstadoAnulado},
	}, te.Allowed)
	assert.Contains(t, err.Error(), "is pendiente; cannot approve")
	assert.Contains(t, err.Error(), "report -> reportado")
}

func TestWorkflow_TerminalPaymentCannotMove(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	_, p := recordReported(t, env, time.October, 2025)

	_, err := env.engine.Workflow.Approve(env.ctx, admin, p.ID)
	require.NoError(t, err)

	for _, attempt := range []func() error{
		func() error { _, err := env.engine.Workflow.Approve(env.ctx, admin, p.ID); return err },
		func() error { _, err := env.engine.Workflow.Reject(env.ctx, admin, p.ID, "late"); return err },
		func() error { _, err := env.engine.Workflow.Report(env.ctx, student, p.ID, "", ""); return err },
		func() error { _, err := env.engine.Workflow.Settle(env.ctx, admin, p.ID); return err },
	} {
		err := attempt()
		var te *generic.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, generic.EstadoPagado, te.Current)
		assert.Empty(t, te.Allowed)
		assert.Contains(t, err.Error(), "terminal")
	}
}

func TestWorkflow_ApproveRequiresPrivilege(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	_, p := recordReported(t, env, time.October, 2025)

	_, err := env.engine.Workflow.Approve(env.ctx, student, p.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestWorkflow_RejectRequiresReason(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	_, p := recordReported(t, env, time.October, 2025)

	_, err := env.engine.Workflow.Reject(env.ctx, admin, p.ID, "   ")
	assert.ErrorIs(t, err, generic.ErrReasonRequired)
	assert.Equal(t, generic.EstadoReportado, env.payment(t, p.ID).Estado)
}

func TestWorkflow_SettlePendingPayment(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID, Method: generic.MethodCash})
	require.NoError(t, err)

	p, err = env.engine.Workflow.Settle(env.ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoPagado, p.Estado)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

func TestWorkflow_ManyRejectionsThenApproval(t *testing.T) {
	// A due may accumulate several anulado payments before one succeeds.
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	for i := 0; i < 3; i++ {
		p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
		require.NoError(t, err)
		_, err = env.engine.Workflow.Report(env.ctx, student, p.ID, "blob://bad", "")
		require.NoError(t, err)
		_, err = env.engine.Workflow.Reject(env.ctx, admin, p.ID, "monto incorrecto")
		require.NoError(t, err)
	}
	p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)
	_, err = env.engine.Workflow.Report(env.ctx, student, p.ID, "blob://ok", "")
	require.NoError(t, err)
	_, err = env.engine.Workflow.Approve(env.ctx, admin, p.ID)
	require.NoError(t, err)

	payments, err := env.store.ListPayments(env.ctx, generic.PaymentFilter{DueID: due.ID})
	require.NoError(t, err)
	assert.Len(t, payments, 4)
	assert.Equal(t, generic.EstadoPagado, env.reload(t, due.ID).Estado)
}

func TestWorkflow_ApproveDueWithoutPayment(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)

	_, err := env.engine.Workflow.ApproveDue(env.ctx, admin, due.ID)
	var te *generic.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "due", te.Subject)
	assert.Equal(t, generic.EstadoPendiente, te.Current)
	assert.Equal(t, generic.EventApprove, te.Event)
	assert.Contains(t, te.Allowed, generic.Move{Event: generic.EventRecord, To: generic.EstadoReportado})
}

func TestWorkflow_VoidDue(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due := env.dueFor(t, "stu-1", time.October, 2025)
	p, err := env.engine.Recorder.Record(env.ctx, student, dues.RecordInput{DueID: due.ID})
	require.NoError(t, err)

	voided, err := env.engine.Workflow.VoidDue(env.ctx, admin, due.ID, "retiro")
	require.NoError(t, err)
	assert.Equal(t, generic.EstadoAnulado, voided.Estado)
	assert.Equal(t, generic.EstadoAnulado, env.payment(t, p.ID).Estado)

	_, err = env.engine.Workflow.VoidDue(env.ctx, admin, due.ID, "otra vez")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = env.engine.Workflow.VoidDue(env.ctx, student, due.ID, "x")
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestWorkflow_AuditTrail(t *testing.T) {
	env := newTestEnv(t, baseConfig())
	due, p := recordReported(t, env, time.October, 2025)
	_, err := env.engine.Workflow.Approve(env.ctx, admin, p.ID)
	require.NoError(t, err)

	entries, err := env.store.QueryAudit(env.ctx, generic.AuditFilter{DueID: due.ID})
	require.NoError(t, err)
	var actions []generic.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditPaymentRecorded,
		generic.AuditPaymentReported,
		generic.AuditPaymentApproved,
	}, actions)
}
