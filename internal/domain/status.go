package domain

// CallStatus is the canonical call lifecycle state
type CallStatus string

const (
	// StatusRinging is the initial state of every call
	StatusRinging CallStatus = "ringing"
	// StatusAccepted means the receiver picked up and negotiation may run
	StatusAccepted CallStatus = "accepted"
	// StatusEnded terminates an accepted call
	StatusEnded CallStatus = "ended"
	// StatusDeclined terminates a ringing call from the receiver side
	StatusDeclined CallStatus = "declined"
	// StatusCancelled terminates a ringing call from the caller side
	StatusCancelled CallStatus = "cancelled"
	// StatusMissed terminates a ringing call on ring timeout
	StatusMissed CallStatus = "missed"
)

// legal transitions; absence means illegal
var transitions = map[CallStatus][]CallStatus{
	StatusRinging:  {StatusAccepted, StatusDeclined, StatusCancelled, StatusMissed},
	StatusAccepted: {StatusEnded},
}

// IsTerminal reports whether no transition may leave this state
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusDeclined, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s CallStatus) IsValid() bool {
	switch s {
	case StatusRinging, StatusAccepted, StatusEnded, StatusDeclined, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal transition.
// Status is monotonic: nothing leaves a terminal state.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
