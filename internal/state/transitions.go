package state

// validTransitions contains the permitted status transitions.
var validTransitions = map[State][]State{
	StateNew: {
		StatePending,
	},
	StatePending: {
		StatePending,
		StateSucceeded,
		StateFailed,
	},
	StateSucceeded: {
		StatePending,
	},
	StateFailed: {
		StatePending,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
