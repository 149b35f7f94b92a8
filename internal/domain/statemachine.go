package domain

import (
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// Transitions maps each state to the states it may move to. A state with no
// outgoing edges is terminal.
type Transitions[S ~string] map[S][]S

// Can reports whether from -> to is an allowed edge.
func (t Transitions[S]) Can(from, to S) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing edges.
func (t Transitions[S]) IsTerminal(s S) bool {
	return len(t[s]) == 0
}

// Check returns an InvalidTransition error naming entity when from -> to is not allowed.
func (t Transitions[S]) Check(entity string, from, to S) error {
	if !t.Can(from, to) {
		return apperrors.InvalidTransition(entity, string(from), string(to))
	}
	return nil
}
