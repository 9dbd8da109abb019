package dues

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/metrics"
)

// =============================================================================
// RECONCILIATION WORKFLOW - Payment state transitions and their effect on dues
// =============================================================================

type Workflow struct {
	*Deps
}

// transitionInput carries the optional data of one event.
type transitionInput struct {
	reason      string
	evidenceRef string
	referencia  string
}

// Report marks a pendiente payment as reportado once evidence is submitted.
func (w *Workflow) Report(ctx context.Context, actor generic.Actor, id generic.PaymentID, evidenceRef, referencia string) (generic.Payment, error) {
	return w.apply(ctx, actor, id, generic.EventReport, transitionInput{evidenceRef: evidenceRef, referencia: referencia})
}

// Approve settles a reportado payment; the due becomes pagado.
func (w *Workflow) Approve(ctx context.Context, actor generic.Actor, id generic.PaymentID) (generic.Payment, error) {
	return w.apply(ctx, actor, id, generic.EventApprove, transitionInput{})
}

// Reject voids a reportado payment; the due reverts to pendiente so it can be paid again.
func (w *Workflow) Reject(ctx context.Context, actor generic.Actor, id generic.PaymentID, reason string) (generic.Payment, error) {
	return w.apply(ctx, actor, id, generic.EventReject, transitionInput{reason: reason})
}

// Settle is the administrative direct settlement of a pendiente payment.
func (w *Workflow) Settle(ctx context.Context, actor generic.Actor, id generic.PaymentID) (generic.Payment, error) {
	return w.apply(ctx, actor, id, generic.EventSettle, transitionInput{})
}

// ApproveDue approves the due's payment in progress.
func (w *Workflow) ApproveDue(ctx context.Context, actor generic.Actor, dueID generic.DueID) (generic.Payment, error) {
	p, err := w.activePayment(ctx, dueID, generic.EventApprove)
	if err != nil {
		return generic.Payment{}, err
	}
	return w.Approve(ctx, actor, p.ID)
}

// RejectDue rejects the due's payment in progress.
func (w *Workflow) RejectDue(ctx context.Context, actor generic.Actor, dueID generic.DueID, reason string) (generic.Payment, error) {
	p, err := w.activePayment(ctx, dueID, generic.EventReject)
	if err != nil {
		return generic.Payment{}, err
	}
	return w.Reject(ctx, actor, p.ID, reason)
}

func (w *Workflow) activePayment(ctx context.Context, dueID generic.DueID, ev generic.Event) (*generic.Payment, error) {
	due, err := w.Store.GetDue(ctx, dueID)
	if err != nil {
		return nil, err
	}
	p, err := w.Store.ActivePayment(ctx, dueID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &generic.TransitionError{
			Subject: "due",
			ID:      string(dueID),
			Current: due.Estado,
			Event:   ev,
			Allowed: generic.AllowedDueMoves(due.Estado),
		}
	}
	return p, nil
}

func (w *Workflow) apply(ctx context.Context, actor generic.Actor, id generic.PaymentID, ev generic.Event, in transitionInput) (payment generic.Payment, err error) {
	start := time.Now()
	defer func() { metrics.ObservePaymentEvent(string(ev), err, time.Since(start)) }()

	if generic.EventRequiresPrivilege(ev) && !actor.Privileged {
		return generic.Payment{}, generic.ErrForbidden
	}
	in.reason = strings.TrimSpace(in.reason)
	if generic.EventRequiresReason(ev) && in.reason == "" {
		return generic.Payment{}, generic.ErrReasonRequired
	}

	// lock on the owning due; the payment row is read again inside the tx
	current, err := w.Store.GetPayment(ctx, id)
	if err != nil {
		return generic.Payment{}, err
	}
	unlock := w.Locks.Lock(string(current.DueID))
	defer unlock()

	var due generic.MonthlyDue
	err = w.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		payment, err = tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		nextPayment, nextDue, err := generic.NextPaymentState(payment.ID, payment.Estado, ev)
		if err != nil {
			return err
		}
		due, err = tx.GetDue(ctx, payment.DueID)
		if err != nil {
			return err
		}
		if err := generic.CheckDueTransition(due.ID, due.Estado, ev, nextDue); err != nil {
			return err
		}

		now := w.now()
		payment.Estado = nextPayment
		switch ev {
		case generic.EventReport:
			payment.ReportedAt = &now
			if in.evidenceRef != "" {
				payment.EvidenceRef = in.evidenceRef
			}
			if in.referencia != "" {
				payment.Referencia = in.referencia
			}
		case generic.EventReject, generic.EventVoid:
			payment.RejectionReason = in.reason
			payment.ReviewedBy = actor.ID
			payment.ResolvedAt = &now
		default:
			payment.ReviewedBy = actor.ID
			payment.ResolvedAt = &now
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		if due.Estado != nextDue {
			due.Estado = nextDue
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

	w.audit(ctx, generic.AuditEntry{
		ActorID:   actor.ID,
		Action:    auditActionFor(ev),
		DueID:     due.ID,
		PaymentID: payment.ID,
		Payload: map[string]any{
			"payment_estado": string(payment.Estado),
			"due_estado":     string(due.Estado),
			"reason":         in.reason,
		},
	})
	w.logger().Info("payment transition",
		"event", ev, "payment", payment.ID, "estado", payment.Estado, "due", due.ID, "due_estado", due.Estado, "actor", actor.ID)
	return payment, nil
}

// VoidDue cancels an unpaid due, for instance after a withdrawal. Any payment
// in progress is voided with it.
func (w *Workflow) VoidDue(ctx context.Context, actor generic.Actor, dueID generic.DueID, reason string) (due generic.MonthlyDue, err error) {
	start := time.Now()
	defer func() { metrics.ObservePaymentEvent(string(generic.EventVoid), err, time.Since(start)) }()

	if !actor.Privileged {
		return generic.MonthlyDue{}, generic.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return generic.MonthlyDue{}, generic.ErrReasonRequired
	}

	unlock := w.Locks.Lock(string(dueID))
	defer unlock()

	var voided generic.PaymentID
	err = w.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		due, err = tx.GetDue(ctx, dueID)
		if err != nil {
			return err
		}
		if err := generic.CheckDueTransition(due.ID, due.Estado, generic.EventVoid, generic.EstadoAnulado); err != nil {
			return err
		}
		now := w.now()

		active, err := tx.ActivePayment(ctx, due.ID)
		if err != nil {
			return err
		}
		if active != nil {
			next, _, err := generic.NextPaymentState(active.ID, active.Estado, generic.EventVoid)
			if err != nil {
				return err
			}
			active.Estado = next
			active.RejectionReason = reason
			active.ReviewedBy = actor.ID
			active.ResolvedAt = &now
			if err := tx.UpdatePayment(ctx, *active); err != nil {
				return fmt.Errorf("void payment %s: %w", active.ID, err)
			}
			voided = active.ID
		}

		due.Estado = generic.EstadoAnulado
		due.UpdatedAt = now
		due, err = tx.UpdateDue(ctx, due)
		return err
	})
	if err != nil {
		return generic.MonthlyDue{}, err
	}

	w.audit(ctx, generic.AuditEntry{
		ActorID:   actor.ID,
		Action:    generic.AuditDueVoided,
		DueID:     due.ID,
		PaymentID: voided,
		Payload:   map[string]any{"reason": reason},
	})
	w.logger().Info("due voided", "due", due.ID, "actor", actor.ID, "payment", voided)
	return due, nil
}

func auditActionFor(ev generic.Event) generic.AuditAction {
	switch ev {
	case generic.EventReport:
		return generic.AuditPaymentReported
	case generic.EventApprove:
		return generic.AuditPaymentApproved
	case generic.EventReject:
		return generic.AuditPaymentRejected
	case generic.EventSettle:
		return generic.AuditPaymentSettled
	}
	return generic.AuditDueVoided
}
