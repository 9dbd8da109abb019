package generic

// =============================================================================
// RECONCILIATION STATE MACHINE
// =============================================================================
//
//   Payment                                MonthlyDue side effect
//   record   (new) -> pendiente            -> reportado
//   report   pendiente -> reportado        -> reportado
//   approve  reportado -> pagado           -> pagado
//   reject   reportado -> anulado          -> pendiente (retry allowed)
//   settle   pendiente -> pagado           -> pagado    (privileged, cash)
//   void     pendiente|reportado -> anulado -> anulado  (due voided)
//
// pagado and anulado are terminal for both payments and dues.

type Event string

const (
	EventRecord  Event = "record"
	EventReport  Event = "report"
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventSettle  Event = "settle"
	EventVoid    Event = "void"
)

type transition struct {
	from   []Estado
	to     Estado
	dueTo  Estado
	reason bool // a reason must accompany the event
	admin  bool // requires a privileged actor
}

var transitions = map[Event]transition{
	EventReport:  {from: []Estado{EstadoPendiente}, to: EstadoReportado, dueTo: EstadoReportado},
	EventApprove: {from: []Estado{EstadoReportado}, to: EstadoPagado, dueTo: EstadoPagado, admin: true},
	EventReject:  {from: []Estado{EstadoReportado}, to: EstadoAnulado, dueTo: EstadoPendiente, reason: true, admin: true},
	EventSettle:  {from: []Estado{EstadoPendiente}, to: EstadoPagado, dueTo: EstadoPagado, admin: true},
	EventVoid:    {from: []Estado{EstadoPendiente, EstadoReportado}, to: EstadoAnulado, dueTo: EstadoAnulado, reason: true, admin: true},
}

// Move is one legal transition: the event and the state it leads to.
type Move struct {
	Event Event
	To    Estado
}

func (m Move) String() string { return string(m.Event) + " -> " + string(m.To) }

var eventOrder = []Event{EventReport, EventApprove, EventReject, EventSettle, EventVoid}

// AllowedPaymentMoves lists the events a payment in current accepts.
func AllowedPaymentMoves(current Estado) []Move {
	var out []Move
	for _, ev := range eventOrder {
		t := transitions[ev]
		for _, f := range t.from {
			if f == current {
				out = append(out, Move{Event: ev, To: t.to})
			}
		}
	}
	return out
}

// AllowedDueMoves lists the events that move a due out of current. A
// pendiente due has no payment in progress; a reportado due has one.
func AllowedDueMoves(current Estado) []Move {
	switch current {
	case EstadoPendiente:
		return []Move{
			{Event: EventRecord, To: EstadoReportado},
			{Event: EventSettle, To: EstadoPagado},
			{Event: EventVoid, To: EstadoAnulado},
		}
	case EstadoReportado:
		return []Move{
			{Event: EventReport, To: EstadoReportado},
			{Event: EventApprove, To: EstadoPagado},
			{Event: EventReject, To: EstadoPendiente},
			{Event: EventSettle, To: EstadoPagado},
			{Event: EventVoid, To: EstadoAnulado},
		}
	}
	return nil
}

// NextPaymentState validates ev against a payment's current state and returns
// the payment's and the owning due's next states.
func NextPaymentState(id PaymentID, current Estado, ev Event) (payment Estado, due Estado, err error) {
	t, ok := transitions[ev]
	if !ok {
		return "", "", &TransitionError{Subject: "payment", ID: string(id), Current: current, Event: ev, Allowed: AllowedPaymentMoves(current)}
	}
	for _, f := range t.from {
		if f == current {
			return t.to, t.dueTo, nil
		}
	}
	return "", "", &TransitionError{
		Subject: "payment",
		ID:      string(id),
		Current: current,
		Event:   ev,
		Target:  t.to,
		Allowed: AllowedPaymentMoves(current),
	}
}

// CheckDueTransition returns a TransitionError when ev cannot move a due from
// current to target.
func CheckDueTransition(id DueID, current Estado, ev Event, target Estado) error {
	for _, m := range AllowedDueMoves(current) {
		if m.Event == ev && m.To == target {
			return nil
		}
	}
	return &TransitionError{Subject: "due", ID: string(id), Current: current, Event: ev, Target: target, Allowed: AllowedDueMoves(current)}
}

// EventRequiresReason reports whether ev must carry a reason.
func EventRequiresReason(ev Event) bool { return transitions[ev].reason }

// EventRequiresPrivilege reports whether ev needs a privileged actor.
func EventRequiresPrivilege(ev Event) bool { return transitions[ev].admin }
