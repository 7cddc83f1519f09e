package workflows

import "sort"

// StateMachine enforces status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from a table of allowed
// transitions. Statuses that only appear as targets are terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	allowed := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		allowed[from] = append([]string(nil), to...)
		for _, t := range to {
			if _, ok := transitions[t]; !ok {
				allowed[t] = nil
			}
		}
	}
	return &StateMachine{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	out := append([]string(nil), allowed...)
	sort.Strings(out)
	return out
}

// Known reports whether status appears in the table
func (sm *StateMachine) Known(status string) bool {
	_, ok := sm.allowedTransitions[status]
	return ok
}

// IsTerminal reports whether a known status has no outgoing transitions
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, ok := sm.allowedTransitions[status]
	return ok && len(allowed) == 0
}
