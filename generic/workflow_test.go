package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/generic"
)

func TestNextPaymentState_TransitionTable(t *testing.T) {
	tests := []struct {
		from    generic.Estado
		event   generic.Event
		payment generic.Estado
		due     generic.Estado
	}{
		{generic.EstadoPendiente, generic.EventReport, generic.EstadoReportado, generic.EstadoReportado},
		{generic.EstadoReportado, generic.EventApprove, generic.EstadoPagado, generic.EstadoPagado},
		{generic.EstadoReportado, generic.EventReject, generic.EstadoAnulado, generic.EstadoPendiente},
		{generic.EstadoPendiente, generic.EventSettle, generic.EstadoPagado, generic.EstadoPagado},
		{generic.EstadoPendiente, generic.EventVoid, generic.EstadoAnulado, generic.EstadoAnulado},
		{generic.EstadoReportado, generic.EventVoid, generic.EstadoAnulado, generic.EstadoAnulado},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			p, d, err := generic.NextPaymentState("pay-1", tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.payment, p)
			assert.Equal(t, tt.due, d)
		})
	}
}

func TestNextPaymentState_Illegal(t *testing.T) {
	tests := []struct {
		from  generic.Estado
		event generic.Event
	}{
		{generic.EstadoPendiente, generic.EventApprove},
		{generic.EstadoPendiente, generic.EventReject},
		{generic.EstadoReportado, generic.EventReport},
		{generic.EstadoReportado, generic.EventSettle},
		{generic.EstadoPagado, generic.EventVoid},
		{generic.EstadoAnulado, generic.EventReport},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			_, _, err := generic.NextPaymentState("pay-1", tt.from, tt.event)
			var te *generic.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.Current)
			assert.ErrorIs(t, err, generic.ErrInvalidTransition)
		})
	}
}

func TestCheckDueTransition(t *testing.T) {
	assert.NoError(t, generic.CheckDueTransition("d", generic.EstadoPendiente, generic.EventRecord, generic.EstadoReportado))
	assert.NoError(t, generic.CheckDueTransition("d", generic.EstadoReportado, generic.EventReport, generic.EstadoReportado))
	assert.NoError(t, generic.CheckDueTransition("d", generic.EstadoReportado, generic.EventReject, generic.EstadoPendiente))

	err := generic.CheckDueTransition("d", generic.EstadoPagado, generic.EventSettle, generic.EstadoPagado)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	err = generic.CheckDueTransition("d", generic.EstadoAnulado, generic.EventReject, generic.EstadoPendiente)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestTransitionError_ListsLegalEvents(t *testing.T) {
	// GIVEN: A payment already reported
	// WHEN: Staff try to settle it directly
	_, _, err := generic.NextPaymentState("pay-1", generic.EstadoReportado, generic.EventSettle)

	// THEN: The message names the refused event and the events that would work
	var te *generic.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, generic.EventSettle, te.Event)
	assert.Equal(t, []generic.Move{
		{Event: generic.EventApprove, To: generic.EstadoPagado},
		{Event: generic.EventReject, To: generic.EstadoAnulado},
		{Event: generic.EventVoid, To: generic.EstadoAnulado},
	}, te.Allowed)
	assert.Equal(t,
		"payment pay-1 is reportado; cannot settle (allowed: approve -> pagado, reject -> anulado, void -> anulado)",
		err.Error())
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, generic.IsRetryable(errors.Join(errors.New("x"), generic.ErrConcurrentModification)))
	assert.True(t, generic.IsClientError(&generic.ConfigError{Fields: []generic.FieldViolation{{Field: "cutoffDay"}}}))
	assert.True(t, generic.IsConflict(&generic.DueStateError{DueID: "d", Estado: generic.EstadoPagado}))
	assert.True(t, generic.IsConflict(&generic.TransitionError{}))
	assert.True(t, generic.IsNotFound(generic.ErrPeriodNotFound))
	assert.False(t, generic.IsNotFound(generic.ErrForbidden))

	voided := &generic.DueStateError{DueID: "d", Estado: generic.EstadoAnulado}
	assert.ErrorIs(t, voided, generic.ErrDueVoided)
	assert.NotErrorIs(t, voided, generic.ErrDueAlreadySettled)

	perr := &generic.PropagationError{ConfigVersion: 3, StaleDues: []generic.DueID{"a", "b"}}
	assert.ErrorIs(t, perr, generic.ErrPropagationPartialFailure)
	assert.Contains(t, perr.Error(), "2 due(s)")
}

func TestReprice(t *testing.T) {
	due := generic.MonthlyDue{
		ID:                 "d",
		Month:              time.October,
		Year:               2025,
		BaseApplied:        generic.NewAmounts(5000, 175000),
		UpdatedBase:        generic.NewAmounts(5000, 175000),
		DueDate:            generic.NewTimePoint(2025, time.October, 15),
		PenaltyRateApplied: 500,
		PricingPolicy:      generic.PolicyRetroactive,
		ConfigVersion:      1,
		Estado:             generic.EstadoPendiente,
	}
	cfg := generic.PaymentConfiguration{PricingPolicy: generic.PolicyRetroactive, PenaltyRate: 1000, CutoffDay: 5, Version: 2}
	month := generic.BillingMonth{Month: time.October, Year: 2025, DefaultPrice: generic.NewAmounts(6000, 210000)}
	today := generic.NewTimePoint(2025, time.October, 6)

	require.True(t, generic.NeedsReprice(due, cfg))
	next := generic.Reprice(due, month, cfg, false, today, time.Now())
	assert.Equal(t, due.BaseApplied, next.BaseApplied)
	assert.Equal(t, month.DefaultPrice, next.UpdatedBase)
	assert.Equal(t, generic.NewTimePoint(2025, time.October, 5), next.DueDate)
	assert.Equal(t, generic.NewAmounts(600, 21000), next.LiveMora)
	assert.False(t, generic.NeedsReprice(next, cfg), "already at the config version")

	withPayment := generic.Reprice(due, month, cfg, true, today, time.Now())
	assert.Equal(t, due.LiveMora, withPayment.LiveMora)

	due.PricingPolicy = generic.PolicyFrozen
	assert.False(t, generic.NeedsReprice(due, cfg))
	due.PricingPolicy = generic.PolicyRetroactive
	due.Estado = generic.EstadoPagado
	assert.False(t, generic.NeedsReprice(due, cfg))
}
