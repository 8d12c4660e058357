package sshterminal

import (
	"time"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateDisconnecting SessionState = "disconnecting"
	StateFailed        SessionState = "failed"
)

// String returns the string representation of a SessionState.
func (s SessionState) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the defined constants.
func (s SessionState) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateDisconnecting, StateFailed:
		return true
	default:
		return false
	}
}

// IsIdle reports whether the state accepts a new Connect. Failed behaves
// like Disconnected for every purpose except that its error was reported.
func (s SessionState) IsIdle() bool {
	return s == StateDisconnected || s == StateFailed
}

// StateTransition records a state change of one session.
type StateTransition struct {
	From      SessionState `json:"from"`
	To        SessionState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
}

// maxTransitionsPerSession limits the stored transition history of a session.
const maxTransitionsPerSession = 50

// transitionLog is a bounded history of state transitions. It is not
// safe for concurrent use; Session guards it with its own mutex.
type transitionLog struct {
	entries []StateTransition
}

func (l *transitionLog) record(from, to SessionState, at time.Time) {
	l.entries = append(l.entries, StateTransition{From: from, To: to, Timestamp: at})
	if len(l.entries) > maxTransitionsPerSession {
		l.entries = l.entries[len(l.entries)-maxTransitionsPerSession:]
	}
}

func (l *transitionLog) snapshot() []StateTransition {
	result := make([]StateTransition, len(l.entries))
	copy(result, l.entries)
	return result
}
