package eventbus

import "github.com/antigravity-dev/weave/internal/model"

// Pattern is a pure function of an event used to decide subscriber
// delivery (spec §4.5): All, ByType, ByBead, ByTypes.
type Pattern interface {
	Match(model.BeadEvent) bool
}

type allPattern struct{}

func (allPattern) Match(model.BeadEvent) bool { return true }

// All matches every event.
func All() Pattern { return allPattern{} }

type byTypePattern struct{ kind model.EventKind }

func (p byTypePattern) Match(e model.BeadEvent) bool { return e.Kind == p.kind }

// ByType matches events of a single kind.
func ByType(kind model.EventKind) Pattern { return byTypePattern{kind: kind} }

type byBeadPattern struct{ bead model.BeadId }

func (p byBeadPattern) Match(e model.BeadEvent) bool { return e.BeadID == p.bead }

// ByBead matches events for a single bead, regardless of kind.
func ByBead(bead model.BeadId) Pattern { return byBeadPattern{bead: bead} }

type byTypesPattern struct{ kinds map[model.EventKind]struct{} }

func (p byTypesPattern) Match(e model.BeadEvent) bool {
	_, ok := p.kinds[e.Kind]
	return ok
}

// ByTypes matches events whose kind is in the given set.
func ByTypes(kinds ...model.EventKind) Pattern {
	set := make(map[model.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return byTypesPattern{kinds: set}
}
