// Package beadstate implements the eight-state bead lifecycle machine
// (spec §4.1): its legal transition table and the claimable/active/
// waiting classification predicates used by the scheduler and tests.
package beadstate

import "github.com/antigravity-dev/weave/internal/model"

var legalTransitions = map[model.BeadState]map[model.BeadState]bool{
	model.Pending: {
		model.Scheduled: true,
		model.Completed: true,
	},
	model.Scheduled: {
		model.Ready:     true,
		model.Pending:   true,
		model.Completed: true,
	},
	model.Ready: {
		model.Running:   true,
		model.Scheduled: true,
	},
	model.Running: {
		model.Completed:  true,
		model.Suspended:  true,
		model.Paused:     true,
		model.BackingOff: true,
	},
	model.Suspended: {
		model.Ready:     true,
		model.Completed: true,
	},
	model.BackingOff: {
		model.Scheduled: true,
		model.Completed: true,
	},
	model.Paused: {
		model.Ready:     true,
		model.Completed: true,
	},
	model.Completed: {},
}

// Apply validates the transition from -> to against the legal transition
// table, returning model.IllegalTransition if it is not allowed.
func Apply(from, to model.BeadState) error {
	dests, ok := legalTransitions[from]
	if !ok || !dests[to] {
		return &model.IllegalTransition{From: from, To: to}
	}
	return nil
}

// ValidTransitions returns the set of legal destination states from a
// given source state, in no particular order.
func ValidTransitions(from model.BeadState) []model.BeadState {
	dests := legalTransitions[from]
	out := make([]model.BeadState, 0, len(dests))
	for s := range dests {
		out = append(out, s)
	}
	return out
}

// Claimable reports whether a bead in this state can be claimed by a
// worker: exactly the Scheduled state.
func Claimable(s model.BeadState) bool {
	return s == model.Scheduled
}

// Active reports whether a bead in this state is actively progressing:
// Ready or Running.
func Active(s model.BeadState) bool {
	return s == model.Ready || s == model.Running
}

// Waiting reports whether a bead in this state is waiting for something
// else to happen: Pending, Scheduled, BackingOff, or Paused.
func Waiting(s model.BeadState) bool {
	switch s {
	case model.Pending, model.Scheduled, model.BackingOff, model.Paused:
		return true
	default:
		return false
	}
}

// Terminal reports whether a bead in this state will never transition
// again.
func Terminal(s model.BeadState) bool {
	return s == model.Completed
}
