package dues

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/metrics"
)

// =============================================================================
// PAYMENT RECORDER - Captures a payment and freezes its snapshot
// =============================================================================

type Recorder struct {
	*Deps
}

// RecordInput describes a payment against a due.
type RecordInput struct {
	DueID generic.DueID

	// Monto is the amount paid. Nil means price plus mora minus Descuento.
	Monto     *generic.Amounts
	Descuento generic.Amounts

	Referencia    string
	EvidenceRef   string // blob reference, stored before calling Record
	Observaciones string
	Method        generic.PaymentMethod // defaults to transfer

	// Then is applied to the new payment in the same transaction:
	// EventReport or EventSettle. Empty leaves it pendiente, except for
	// privileged cash, which always settles.
	Then generic.Event
}

// Record creates a payment for a due.
//
// The snapshot prices the due's current UpdatedBase against the live penalty
// rate and cutoff as of today. The payment starts pendiente and the due moves
// to reportado; a privileged actor recording cash settles both straight to
// pagado. With in.Then set, the payment is reported or settled before the
// transaction commits; if that step fails nothing is recorded. A due may carry
// only one non-terminal payment at a time.
func (r *Recorder) Record(ctx context.Context, actor generic.Actor, in RecordInput) (payment generic.Payment, err error) {
	start := time.Now()
	event := string(generic.EventRecord)
	defer func() { metrics.ObservePaymentEvent(event, err, time.Since(start)) }()

	if in.Method == "" {
		in.Method = generic.MethodTransfer
	}
	if !in.Method.Valid() {
		return generic.Payment{}, fmt.Errorf("%w: unknown payment method %q", generic.ErrInvalidAmount, in.Method)
	}
	in.Descuento = in.Descuento.Normalize()
	if err := in.Descuento.Validate(); err != nil {
		return generic.Payment{}, err
	}
	if in.Monto != nil {
		m := in.Monto.Normalize()
		if err := m.Validate(); err != nil {
			return generic.Payment{}, err
		}
		in.Monto = &m
	}
	if in.Then == "" && actor.Privileged && in.Method == generic.MethodCash {
		in.Then = generic.EventSettle
	}
	switch in.Then {
	case "":
	case generic.EventReport, generic.EventSettle:
		if generic.EventRequiresPrivilege(in.Then) && !actor.Privileged {
			return generic.Payment{}, generic.ErrForbidden
		}
		event = string(in.Then)
	default:
		return generic.Payment{}, &generic.TransitionError{
			Subject: "payment",
			Current: generic.EstadoPendiente,
			Event:   in.Then,
			Allowed: generic.AllowedPaymentMoves(generic.EstadoPendiente),
		}
	}

	unlock := r.Locks.Lock(string(in.DueID))
	defer unlock()

	var due generic.MonthlyDue
	err = r.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		due, err = tx.GetDue(ctx, in.DueID)
		if err != nil {
			return err
		}
		if due.Estado.IsFinal() {
			return &generic.DueStateError{DueID: due.ID, Estado: due.Estado}
		}
		active, err := tx.ActivePayment(ctx, due.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("due %s has payment %s in %s: %w", due.ID, active.ID, active.Estado, generic.ErrPaymentInProgress)
		}
		cfg, err := tx.GetConfig(ctx)
		if err != nil {
			return err
		}

		now := r.now()
		snapshot := generic.TakeSnapshot(due, cfg, generic.DateOf(now))
		payment = generic.Payment{
			ID:            newPaymentID(),
			DueID:         due.ID,
			StudentID:     due.StudentID,
			MontoMora:     snapshot.PenaltyApplied,
			Descuento:     in.Descuento,
			Referencia:    in.Referencia,
			EvidenceRef:   in.EvidenceRef,
			Observaciones: in.Observaciones,
			Method:        in.Method,
			Estado:        generic.EstadoPendiente,
			Snapshot:      snapshot,
			RecordedBy:    actor.ID,
			CreatedAt:     now,
		}
		if in.Monto != nil {
			payment.Monto = *in.Monto
		} else {
			payment.Monto = snapshot.Total().Sub(in.Descuento)
			if payment.Monto.IsNegative() {
				return fmt.Errorf("%w: discount exceeds amount owed", generic.ErrInvalidAmount)
			}
		}

		dueTarget := generic.EstadoReportado
		if in.Then != "" {
			next, nextDue, err := generic.NextPaymentState(payment.ID, payment.Estado, in.Then)
			if err != nil {
				return err
			}
			payment.Estado, dueTarget = next, nextDue
			if in.Then == generic.EventReport {
				payment.ReportedAt = &now
			} else {
				payment.ReviewedBy = actor.ID
				payment.ResolvedAt = &now
			}
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		if due.Estado != dueTarget {
			due.Estado = dueTarget
			due.UpdatedAt = now
			if due, err = tx.UpdateDue(ctx, due); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return generic.Payment{}, err
	}

	action := generic.AuditPaymentRecorded
	if in.Then != "" {
		action = auditActionFor(in.Then)
	}
	r.audit(ctx, generic.AuditEntry{
		ActorID:   actor.ID,
		Action:    action,
		DueID:     due.ID,
		PaymentID: payment.ID,
		Payload: map[string]any{
			"estado":     string(payment.Estado),
			"mora_usd":   payment.MontoMora.USD.Minor,
			"mora_ves":   payment.MontoMora.VES.Minor,
			"config_ver": payment.Snapshot.ConfigVersion,
		},
	})
	r.logger().Info("payment recorded",
		"payment", payment.ID, "due", due.ID, "estado", payment.Estado, "method", payment.Method, "actor", actor.ID)
	return payment, nil
}
