package ledger

import "fmt"

// ParticipantStatus defines the lifecycle of one journaled unit of work.
type ParticipantStatus int

const (
	StatusActive ParticipantStatus = iota
	StatusCompleting
	StatusCompleted
	StatusCompensating
	StatusCompensated
	StatusFailedToComplete
	StatusFailedToCompensate
)

var validTransitions = map[ParticipantStatus]map[ParticipantStatus]struct{}{
	StatusActive: {
		StatusCompleting:       {},
		StatusCompensating:     {},
		StatusFailedToComplete: {},
	},
	StatusCompleting: {
		StatusCompleted:        {},
		StatusFailedToComplete: {},
	},
	// A completed operation can still be compensated: cancel reverses
	// the applied balance delta.
	StatusCompleted: {
		StatusCompensating: {},
	},
	StatusCompensating: {
		StatusCompensated:        {},
		StatusFailedToCompensate: {},
	},
}

var statusNames = map[ParticipantStatus]string{
	StatusActive:             "Active",
	StatusCompleting:         "Completing",
	StatusCompleted:          "Completed",
	StatusCompensating:       "Compensating",
	StatusCompensated:        "Compensated",
	StatusFailedToComplete:   "FailedToComplete",
	StatusFailedToCompensate: "FailedToCompensate",
}

var statusValues = func() map[string]ParticipantStatus {
	m := make(map[string]ParticipantStatus, len(statusNames))
	for k, v := range statusNames {
		m[v] = k
	}
	return m
}()

// String returns the string form of ParticipantStatus.
func (s ParticipantStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseParticipantStatus maps a string back to its status. Unknown strings
// are rejected rather than coerced.
func ParseParticipantStatus(value string) (ParticipantStatus, error) {
	s, ok := statusValues[value]
	if !ok {
		return 0, fmt.Errorf("ledger: unknown participant status %q", value)
	}
	return s, nil
}

// IsTerminal reports whether the status is terminal.
func (s ParticipantStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailedToComplete, StatusFailedToCompensate:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a status transition is valid.
func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	if s == next {
		return true
	}
	validNext, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition validates transition semantics.
func ValidateTransition(current, next ParticipantStatus) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("ledger: invalid status transition: %s -> %s", current, next)
	}
	return nil
}
