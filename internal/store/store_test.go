package store

import (
	"testing"
	"time"

	"github.com/antigravity-dev/weave/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) = %v, want nil", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetBead(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	worker := model.WorkerId("worker1")
	b := model.Bead{
		ID:                "A",
		WorkflowID:        "W",
		Spec:              "do the thing",
		State:             model.Scheduled,
		RestartCount:      2,
		LastClaimWorker:   &worker,
		LastStateChangeTs: &now,
		Metadata:          map[string]string{"k": "v"},
	}
	if err := s.PutBead(b); err != nil {
		t.Fatalf("PutBead = %v, want nil", err)
	}

	got, err := s.GetBead("A")
	if err != nil {
		t.Fatalf("GetBead = %v, want nil", err)
	}
	if got.ID != b.ID || got.WorkflowID != b.WorkflowID || got.Spec != b.Spec || got.State != b.State || got.RestartCount != b.RestartCount {
		t.Fatalf("GetBead = %+v, want %+v", got, b)
	}
	if got.LastClaimWorker == nil || *got.LastClaimWorker != worker {
		t.Fatalf("GetBead LastClaimWorker = %v, want %s", got.LastClaimWorker, worker)
	}
	if got.Metadata["k"] != "v" {
		t.Fatalf("GetBead Metadata = %v, want k=v", got.Metadata)
	}
}

func TestGetBead_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetBead("missing")
	perr, ok := err.(*model.PersistenceError)
	if !ok || perr.Kind != model.PersistenceNotFound {
		t.Fatalf("GetBead(missing) = %v, want PersistenceError{NotFound}", err)
	}
}

func TestDeleteBead_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.DeleteBead("missing")
	perr, ok := err.(*model.PersistenceError)
	if !ok || perr.Kind != model.PersistenceNotFound {
		t.Fatalf("DeleteBead(missing) = %v, want PersistenceError{NotFound}", err)
	}
}

func seedBead(t *testing.T, s *Store, id model.BeadId, state model.BeadState) {
	t.Helper()
	if err := s.PutBead(model.Bead{ID: id, WorkflowID: "W", State: state}); err != nil {
		t.Fatalf("PutBead(%s) = %v", id, err)
	}
}

// TestFindBlockedBeads_Determinism mirrors the blocked-bead determinism
// testable property: entries sorted by bead_id, each blocking_deps list
// sorted and deduplicated.
func TestFindBlockedBeads_Determinism(t *testing.T) {
	s := openTestStore(t)
	seedBead(t, s, "A", model.Scheduled)
	seedBead(t, s, "B", model.Running)
	seedBead(t, s, "C", model.Pending)

	// C depends on both A and B, neither of which is completed.
	if err := s.PutEdge(model.DependencyEdge{Src: "C", Dst: "A", Relation: model.DependsOn, Created: time.Now()}); err != nil {
		t.Fatalf("PutEdge = %v", err)
	}
	if err := s.PutEdge(model.DependencyEdge{Src: "C", Dst: "B", Relation: model.DependsOn, Created: time.Now()}); err != nil {
		t.Fatalf("PutEdge = %v", err)
	}
	// A blocks B via a Blocks edge (Src is the gating bead, Dst the gated
	// one): B is blocked by A, not the reverse.
	if err := s.PutEdge(model.DependencyEdge{Src: "A", Dst: "B", Relation: model.Blocks, Created: time.Now()}); err != nil {
		t.Fatalf("PutEdge = %v", err)
	}

	blocked, err := s.FindBlockedBeads()
	if err != nil {
		t.Fatalf("FindBlockedBeads = %v, want nil", err)
	}
	if len(blocked) != 2 {
		t.Fatalf("FindBlockedBeads() returned %d entries, want 2: %+v", len(blocked), blocked)
	}
	if blocked[0].BeadID != "B" || blocked[1].BeadID != "C" {
		t.Fatalf("FindBlockedBeads() not sorted by bead_id: %+v", blocked)
	}
	if len(blocked[0].BlockingDeps) != 1 || blocked[0].BlockingDeps[0] != "A" {
		t.Fatalf("blocked[0].BlockingDeps = %v, want [A]", blocked[0].BlockingDeps)
	}
	if len(blocked[1].BlockingDeps) != 2 || blocked[1].BlockingDeps[0] != "A" || blocked[1].BlockingDeps[1] != "B" {
		t.Fatalf("blocked[1].BlockingDeps = %v, want [A B] sorted", blocked[1].BlockingDeps)
	}
}

func TestPutGetEvent_Ordering(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.PutEvent(model.BeadEvent{Kind: model.EventCreated, BeadID: "A", Timestamp: time.Now()}); err != nil {
			t.Fatalf("PutEvent = %v, want nil", err)
		}
	}
	events, err := s.ReadEvents(nil)
	if err != nil {
		t.Fatalf("ReadEvents = %v, want nil", err)
	}
	if len(events) != 3 {
		t.Fatalf("ReadEvents() returned %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].EventID <= events[i-1].EventID {
			t.Fatalf("events not monotonically ordered: %+v", events)
		}
	}

	from := events[0].EventID
	rest, err := s.ReadEvents(&from)
	if err != nil {
		t.Fatalf("ReadEvents(from) = %v, want nil", err)
	}
	if len(rest) != 2 {
		t.Fatalf("ReadEvents(from) returned %d events, want 2", len(rest))
	}
}
