package graph

import (
	"reflect"
	"testing"

	"github.com/antigravity-dev/weave/internal/model"
)

func mustAddNodes(t *testing.T, d *DAG, ids ...model.BeadId) {
	t.Helper()
	for _, id := range ids {
		if err := d.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s) = %v, want nil", id, err)
		}
	}
}

func TestAddNode_Duplicate(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A")
	err := d.AddNode("A")
	if _, ok := err.(*model.DuplicateNode); !ok {
		t.Fatalf("AddNode(A) again = %v, want *model.DuplicateNode", err)
	}
}

func TestAddEdge_UnknownNode(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A")
	if _, ok := d.AddEdge("A", "B", model.DependsOn).(*model.UnknownNode); !ok {
		t.Fatalf("AddEdge with unknown dst should fail with UnknownNode")
	}
	if _, ok := d.AddEdge("B", "A", model.DependsOn).(*model.UnknownNode); !ok {
		t.Fatalf("AddEdge with unknown src should fail with UnknownNode")
	}
}

func TestAddEdge_SelfLoopRejected(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A")
	err := d.AddEdge("A", "A", model.DependsOn)
	if _, ok := err.(*model.CycleWouldForm); !ok {
		t.Fatalf("self-edge = %v, want *model.CycleWouldForm", err)
	}
}

func TestAddEdge_Duplicate(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A", "B")
	if err := d.AddEdge("A", "B", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v, want nil", err)
	}
	err := d.AddEdge("A", "B", model.DependsOn)
	if _, ok := err.(*model.DuplicateEdge); !ok {
		t.Fatalf("AddEdge again = %v, want *model.DuplicateEdge", err)
	}
}

func TestAddEdge_CycleRejection(t *testing.T) {
	// Mirrors scenario 2 at the DAG level: B depends on A (edge B->A)
	// succeeds; the reverse edge A->B fails with CycleWouldForm; ready set
	// remains [A].
	d := New()
	mustAddNodes(t, d, "A", "B")
	if err := d.AddEdge("B", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge(B,A) = %v, want nil", err)
	}
	err := d.AddEdge("A", "B", model.DependsOn)
	if _, ok := err.(*model.CycleWouldForm); !ok {
		t.Fatalf("AddEdge(A,B) = %v, want *model.CycleWouldForm", err)
	}
	got := d.ReadyBeads()
	want := []model.BeadId{"A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadyBeads() = %v, want %v", got, want)
	}
}

func TestRemoveNode_RemovesIncidentEdges(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A", "B", "C")
	if err := d.AddEdge("B", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	if err := d.AddEdge("C", "B", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	if err := d.RemoveNode("B"); err != nil {
		t.Fatalf("RemoveNode = %v", err)
	}
	// C's only dependency was B, which is gone, so C is now ready.
	ready, err := d.IsReady("C")
	if err != nil {
		t.Fatalf("IsReady = %v", err)
	}
	if !ready {
		t.Fatalf("IsReady(C) = false after removing its dependency, want true")
	}
}

func TestLinearChainReadiness(t *testing.T) {
	// Scenario 1: linear chain A <- B <- C (DependsOn).
	d := New()
	mustAddNodes(t, d, "A", "B", "C")
	if err := d.AddEdge("B", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge(B,A) = %v", err)
	}
	if err := d.AddEdge("C", "B", model.DependsOn); err != nil {
		t.Fatalf("AddEdge(C,B) = %v", err)
	}

	assertReady(t, d, []model.BeadId{"A"})

	d.MarkCompleted("A")
	assertReady(t, d, []model.BeadId{"B"})

	d.MarkCompleted("B")
	assertReady(t, d, []model.BeadId{"C"})

	d.MarkCompleted("C")
	assertReady(t, d, []model.BeadId{})
}

func assertReady(t *testing.T, d *DAG, want []model.BeadId) {
	t.Helper()
	got := d.ReadyBeads()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadyBeads() = %v, want %v", got, want)
	}
}

func TestReadyBeads_BlocksEdgeVetoesOnFailure(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A", "B")
	if err := d.AddEdge("A", "B", model.Blocks); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	assertReady(t, d, []model.BeadId{"A", "B"})

	d.MarkFailed("A")
	assertReady(t, d, []model.BeadId{})
}

func TestReadyBeads_DeterministicOrder(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "C", "A", "B")
	got := d.ReadyBeads()
	want := []model.BeadId{"A", "B", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadyBeads() = %v, want %v (sorted by id)", got, want)
	}
}

func TestTopologicalOrder_CachedAndInvalidated(t *testing.T) {
	d := New()
	mustAddNodes(t, d, "A", "B", "C")
	// B depends on A: A must precede B in a prerequisite-first order.
	if err := d.AddEdge("B", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	order := d.TopologicalOrder()
	idxA, idxB := indexOf(order, "A"), indexOf(order, "B")
	if idxA < 0 || idxB < 0 || idxA > idxB {
		t.Fatalf("TopologicalOrder() = %v, want A before B", order)
	}

	// B also depends on C: C must precede B.
	if err := d.AddEdge("B", "C", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	order2 := d.TopologicalOrder()
	idxB2, idxC2 := indexOf(order2, "B"), indexOf(order2, "C")
	if idxB2 < 0 || idxC2 < 0 || idxC2 > idxB2 {
		t.Fatalf("TopologicalOrder() after mutation = %v, want C before B", order2)
	}
}

func indexOf(ids []model.BeadId, target model.BeadId) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func TestCriticalPath_LongestWeightedPath(t *testing.T) {
	// Execution order A -> B -> D and A -> C -> D, where B/C have
	// different weights. Each edge is expressed as "dependent depends on
	// prerequisite", so B depends on A, C depends on A, D depends on B,
	// D depends on C.
	d := New()
	mustAddNodes(t, d, "A", "B", "C", "D")
	if err := d.AddEdge("B", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	if err := d.AddEdge("C", "A", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	if err := d.AddEdge("D", "B", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}
	if err := d.AddEdge("D", "C", model.DependsOn); err != nil {
		t.Fatalf("AddEdge = %v", err)
	}

	weights := map[model.BeadId]int{"A": 1, "B": 5, "C": 1, "D": 1}
	got := d.CriticalPath(weights)
	want := []model.BeadId{"A", "B", "D"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CriticalPath() = %v, want %v", got, want)
	}
}
