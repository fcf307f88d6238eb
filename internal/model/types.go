// Package model holds the data shapes shared across weave's core actors:
// beads, dependency edges, lifecycle events, and the scheduler's dispatch
// projection of a bead. Nothing in this package owns mutable state; the
// graph, store, and scheduler packages do.
package model

import "time"

// BeadId, WorkflowId, WorkerId, and SubscriberId are opaque stable
// identifiers, unique within their own namespace. BeadIds carry no
// workflow prefix; the Bead-to-workflow mapping is always explicit.
type (
	BeadId       string
	WorkflowId   string
	WorkerId     string
	SubscriberId string
)

// BeadState is one of the eight lifecycle states from the state machine.
// See internal/beadstate for the transition table.
type BeadState string

const (
	Pending    BeadState = "pending"
	Scheduled  BeadState = "scheduled"
	Ready      BeadState = "ready"
	Running    BeadState = "running"
	Suspended  BeadState = "suspended"
	BackingOff BeadState = "backing_off"
	Paused     BeadState = "paused"
	Completed  BeadState = "completed"
)

// Bead is the unit of work. Mutated only by the Scheduler actor that owns
// its workflow.
type Bead struct {
	ID                BeadId
	WorkflowID        WorkflowId
	Spec              string
	State             BeadState
	RestartCount      int
	LastClaimWorker   *WorkerId
	LastStateChangeTs *time.Time
	Metadata          map[string]string
}

// Relation tags a DependencyEdge with one of the two dependency semantics.
type Relation string

const (
	DependsOn Relation = "depends_on"
	Blocks    Relation = "blocks"
)

// DependencyEdge is a directed relation between two beads in the same
// workflow. For DependsOn, Src cannot start until Dst is complete. For
// Blocks, if Src fails terminally, Dst cannot execute.
type DependencyEdge struct {
	Src      BeadId
	Dst      BeadId
	Relation Relation
	Created  time.Time
	Metadata map[string]string
}

// EventKind enumerates the lifecycle events a BeadEvent can carry.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStateChanged  EventKind = "state_changed"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
	EventClaimed       EventKind = "claimed"
	EventReleased      EventKind = "released"
)

// EventId is the monotonically assigned identifier of a BeadEvent.
type EventId uint64

// BeadEvent is an immutable lifecycle record. Never modified after
// creation; retained by the event store until a retention policy (if
// configured) deletes it.
type BeadEvent struct {
	EventID    EventId
	Kind       EventKind
	BeadID     BeadId
	WorkflowID *WorkflowId
	Timestamp  time.Time
	// FromState/ToState are populated only for EventStateChanged.
	FromState BeadState
	ToState   BeadState
	Payload   map[string]string
}

// SubState is the scheduler's auxiliary dispatch projection of a
// ScheduledBead, distinct from the canonical eight-state machine (§4.1).
// It is always re-derived from canonical state on recovery, never
// persisted as its own source of truth.
type SubState string

const (
	SubPending  SubState = "pending"
	SubReady    SubState = "ready"
	SubAssigned SubState = "assigned"
	SubComplete SubState = "complete"
)

// ScheduledBead pairs a BeadId with its owning workflow and scheduling
// sub-state. Exists only while the scheduler is tracking the bead, i.e.
// from ScheduleBead until the bead reaches Completed and is dropped.
type ScheduledBead struct {
	BeadID     BeadId
	WorkflowID WorkflowId
	SubState   SubState
}

// WorkflowStatus is the reply shape for GetWorkflowStatus.
type WorkflowStatus struct {
	Total      int
	Completed  int
	Ready      int
	IsComplete bool
}

// SchedulerStats is the reply shape for GetStats.
type SchedulerStats struct {
	Workflows   int
	PendingBeads int
	ReadyBeads   int
	Assignments  int
}

// BlockedBead is one entry of the persistence store's find_blocked_beads
// query: a bead with at least one outstanding dependency or blocker.
type BlockedBead struct {
	BeadID      BeadId
	BlockingDeps []BeadId
}
