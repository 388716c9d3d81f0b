// Package subscription holds the account status state machine. Every status
// change in Tally goes through Next; nothing assigns a State directly.
package subscription

import "fmt"

// State is the billing status of an account.
type State string

const (
	StateTrial       State = "trial"
	StatePilot       State = "pilot"
	StateActive      State = "active"
	StateGracePeriod State = "grace_period"
	StateSuspended   State = "suspended"
	StateCancelled   State = "cancelled"
)

// Event is a payment or elapsed-time signal that may move an account.
type Event string

const (
	EventPaymentReceived     Event = "payment_received"
	EventPilotConverted      Event = "pilot_converted"
	EventPaymentOverdue      Event = "payment_overdue"
	EventGraceExpired        Event = "grace_expired"
	EventProlongedNonPayment Event = "prolonged_non_payment"
	EventCancel              Event = "cancel"
)

// States lists every state in lifecycle order.
func States() []State {
	return []State{StateTrial, StatePilot, StateActive, StateGracePeriod, StateSuspended, StateCancelled}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AcceptsUsage reports whether usage events are accepted in this state.
func (s State) AcceptsUsage() bool {
	return s != StateSuspended && s != StateCancelled
}

// Terminal reports whether no event can leave s.
func (s State) Terminal() bool { return s == StateCancelled }

// transitions maps (state, event) to the next state. Events that are
// meaningful but change nothing map back onto the same state so callers
// can tell "no-op" apart from "not allowed".
var transitions = map[State]map[Event]State{
	StateTrial: {
		EventPaymentReceived: StateActive,
		EventPaymentOverdue:  StateGracePeriod,
		EventCancel:          StateCancelled,
	},
	StatePilot: {
		EventPilotConverted:  StateActive,
		EventPaymentReceived: StatePilot,
		EventCancel:          StateCancelled,
	},
	StateActive: {
		EventPaymentReceived: StateActive,
		EventPaymentOverdue:  StateGracePeriod,
		EventCancel:          StateCancelled,
	},
	StateGracePeriod: {
		EventPaymentReceived: StateActive,
		EventPaymentOverdue:  StateGracePeriod,
		EventGraceExpired:    StateSuspended,
		EventCancel:          StateCancelled,
	},
	StateSuspended: {
		EventPaymentReceived:     StateActive,
		EventPaymentOverdue:      StateSuspended,
		EventGraceExpired:        StateSuspended,
		EventProlongedNonPayment: StateCancelled,
		EventCancel:              StateCancelled,
	},
	StateCancelled: {},
}

// TransitionError is returned by Next for an event the state does not accept.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("subscription: event %q not allowed in state %q", e.Event, e.From)
}

// Next returns the state reached by applying ev in from.
func Next(from State, ev Event) (State, error) {
	edges, ok := transitions[from]
	if !ok {
		return from, fmt.Errorf("subscription: unknown state %q", from)
	}
	to, ok := edges[ev]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Initial returns the state a newly created account starts in.
func Initial(pilot bool) State {
	if pilot {
		return StatePilot
	}
	return StateTrial
}
