// Package graph implements the workflow DAG (spec §4.2): an in-memory
// directed graph of bead identifiers with labeled edges, cycle rejection,
// cached topological order, readiness, and critical-path computation.
//
// A DAG is never left with broken invariants: every mutating method
// either applies wholly or returns an error and leaves the graph
// unchanged.
package graph

import (
	"sort"

	"github.com/antigravity-dev/weave/internal/model"
)

type edge struct {
	dst      model.BeadId
	relation model.Relation
}

// DAG is the workflow-scoped dependency graph. Not safe for concurrent
// use by multiple goroutines; the scheduler actor serializes access to
// each workflow's DAG.
type DAG struct {
	nodes map[model.BeadId]struct{}
	out   map[model.BeadId][]edge
	in    map[model.BeadId][]edge

	completed map[model.BeadId]struct{}
	failed    map[model.BeadId]struct{}

	topoOrder []model.BeadId
	topoDirty bool
}

// New returns an empty DAG.
func New() *DAG {
	return &DAG{
		nodes:     make(map[model.BeadId]struct{}),
		out:       make(map[model.BeadId][]edge),
		in:        make(map[model.BeadId][]edge),
		completed: make(map[model.BeadId]struct{}),
		failed:    make(map[model.BeadId]struct{}),
		topoDirty: true,
	}
}

// AddNode inserts a bead. Fails with model.DuplicateNode if already
// present.
func (d *DAG) AddNode(id model.BeadId) error {
	if _, ok := d.nodes[id]; ok {
		return &model.DuplicateNode{BeadID: id}
	}
	d.nodes[id] = struct{}{}
	d.topoDirty = true
	return nil
}

// RemoveNode removes a bead and all incident edges atomically.
func (d *DAG) RemoveNode(id model.BeadId) error {
	if _, ok := d.nodes[id]; !ok {
		return &model.UnknownNode{BeadID: id}
	}
	for _, e := range d.out[id] {
		d.in[e.dst] = removeEdge(d.in[e.dst], edge{dst: id, relation: e.relation})
	}
	for _, e := range d.in[id] {
		d.out[e.dst] = removeEdge(d.out[e.dst], edge{dst: id, relation: e.relation})
	}
	delete(d.out, id)
	delete(d.in, id)
	delete(d.nodes, id)
	delete(d.completed, id)
	delete(d.failed, id)
	d.topoDirty = true
	return nil
}

// AddEdge inserts a labeled directed edge src -> dst. Fails with
// model.UnknownNode if either endpoint is absent, model.DuplicateEdge if
// the same (src,dst,relation) edge exists, or model.CycleWouldForm
// (including a self-edge) if adding it would create a directed cycle.
func (d *DAG) AddEdge(src, dst model.BeadId, relation model.Relation) error {
	if _, ok := d.nodes[src]; !ok {
		return &model.UnknownNode{BeadID: src}
	}
	if _, ok := d.nodes[dst]; !ok {
		return &model.UnknownNode{BeadID: dst}
	}
	if src == dst {
		return &model.CycleWouldForm{Src: src, Dst: dst}
	}
	for _, e := range d.out[src] {
		if e.dst == dst && e.relation == relation {
			return &model.DuplicateEdge{Src: src, Dst: dst, Relation: relation}
		}
	}
	if d.reachable(dst, src) {
		return &model.CycleWouldForm{Src: src, Dst: dst}
	}
	d.out[src] = append(d.out[src], edge{dst: dst, relation: relation})
	d.in[dst] = append(d.in[dst], edge{dst: src, relation: relation})
	d.topoDirty = true
	return nil
}

// RemoveEdge removes a labeled edge. Fails with model.UnknownNode if
// either endpoint is absent; a no-op (returns nil) if the edge itself
// does not exist.
func (d *DAG) RemoveEdge(src, dst model.BeadId, relation model.Relation) error {
	if _, ok := d.nodes[src]; !ok {
		return &model.UnknownNode{BeadID: src}
	}
	if _, ok := d.nodes[dst]; !ok {
		return &model.UnknownNode{BeadID: dst}
	}
	d.out[src] = removeEdge(d.out[src], edge{dst: dst, relation: relation})
	d.in[dst] = removeEdge(d.in[dst], edge{dst: src, relation: relation})
	d.topoDirty = true
	return nil
}

// MarkCompleted records success in the completed set. No-op if already
// present.
func (d *DAG) MarkCompleted(id model.BeadId) {
	d.completed[id] = struct{}{}
}

// MarkFailed records that a bead has reached a permanent-failure
// terminal state, for evaluating incoming Blocks edges. No-op if already
// present.
func (d *DAG) MarkFailed(id model.BeadId) {
	d.failed[id] = struct{}{}
}

// IsCompleted reports whether a bead is in the completed set.
func (d *DAG) IsCompleted(id model.BeadId) bool {
	_, ok := d.completed[id]
	return ok
}

// IsReady returns whether the bead is currently ready: every incoming
// DependsOn predecessor is completed, and no incoming Blocks predecessor
// has permanently failed. Fails with model.UnknownNode if absent.
func (d *DAG) IsReady(id model.BeadId) (bool, error) {
	if _, ok := d.nodes[id]; !ok {
		return false, &model.UnknownNode{BeadID: id}
	}
	return d.isReadyUnchecked(id), nil
}

// isReadyUnchecked evaluates readiness directly: DependsOn is a forward
// constraint on the bead's own outgoing edges (it names its
// prerequisites), while Blocks is a veto carried by incoming edges (a
// predecessor that fails terminally vetoes this bead).
func (d *DAG) isReadyUnchecked(id model.BeadId) bool {
	if _, failed := d.failed[id]; failed {
		return false
	}
	for _, e := range d.out[id] {
		if e.relation == model.DependsOn {
			if _, ok := d.completed[e.dst]; !ok {
				return false
			}
		}
	}
	for _, e := range d.in[id] {
		if e.relation == model.Blocks {
			if _, ok := d.failed[e.dst]; ok {
				return false
			}
		}
	}
	return true
}

// prerequisites returns the beads that id's DependsOn edges name as
// targets: the beads that must complete before id can run.
func (d *DAG) prerequisites(id model.BeadId) []model.BeadId {
	var out []model.BeadId
	for _, e := range d.out[id] {
		if e.relation == model.DependsOn {
			out = append(out, e.dst)
		}
	}
	return out
}

// dependents returns the beads whose DependsOn edges name id as a
// target: the beads that become one step closer to ready once id
// completes.
func (d *DAG) dependents(id model.BeadId) []model.BeadId {
	var out []model.BeadId
	for _, e := range d.in[id] {
		if e.relation == model.DependsOn {
			out = append(out, e.dst)
		}
	}
	return out
}

// Nodes returns every bead id currently in the graph, sorted.
func (d *DAG) Nodes() []model.BeadId {
	out := make([]model.BeadId, 0, len(d.nodes))
	for id := range d.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasNode reports whether id is a node of the graph.
func (d *DAG) HasNode(id model.BeadId) bool {
	_, ok := d.nodes[id]
	return ok
}

// CompletedCount returns the number of beads marked completed.
func (d *DAG) CompletedCount() int {
	return len(d.completed)
}

// ReadyBeads returns the set of ready BeadIds in deterministic order,
// sorted by identifier to break ties.
func (d *DAG) ReadyBeads() []model.BeadId {
	out := make([]model.BeadId, 0)
	for id := range d.nodes {
		if _, done := d.completed[id]; done {
			continue
		}
		if d.isReadyUnchecked(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopologicalOrder returns a topological ordering of all nodes, computed
// lazily and cached until the next mutation.
func (d *DAG) TopologicalOrder() []model.BeadId {
	if !d.topoDirty && d.topoOrder != nil {
		return d.topoOrder
	}
	order := d.computeTopoOrder()
	d.topoOrder = order
	d.topoDirty = false
	return order
}

// computeTopoOrder produces a prerequisite-first ordering: for every
// DependsOn edge, the target (prerequisite) precedes the source
// (dependent). Blocks edges carry no ordering constraint.
func (d *DAG) computeTopoOrder() []model.BeadId {
	inDegree := make(map[model.BeadId]int, len(d.nodes))
	ids := make([]model.BeadId, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
		inDegree[id] = len(d.prerequisites(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ready := make([]model.BeadId, 0, len(ids))
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]model.BeadId, 0, len(ids))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := d.dependents(id)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, n := range next {
			inDegree[n]--
			if inDegree[n] == 0 {
				ready = append(ready, n)
			}
		}
	}
	return order
}

// reachable reports whether dst is reachable from src by following
// outgoing edges of any relation. Used to detect cycles before an edge
// is committed.
func (d *DAG) reachable(src, dst model.BeadId) bool {
	if src == dst {
		return true
	}
	visited := make(map[model.BeadId]bool)
	stack := []model.BeadId{src}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == dst {
			return true
		}
		for _, e := range d.out[n] {
			if !visited[e.dst] {
				stack = append(stack, e.dst)
			}
		}
	}
	return false
}

// CriticalPath returns the longest-weight path from any source (no
// in-edges) to any sink (no out-edges), using the supplied per-node
// weights, via topological-order relaxation. Ties in the relaxation are
// broken by identifier order through the topological order itself.
func (d *DAG) CriticalPath(weights map[model.BeadId]int) []model.BeadId {
	order := d.TopologicalOrder()
	best := make(map[model.BeadId]int, len(order))
	prev := make(map[model.BeadId]model.BeadId, len(order))
	hasPrev := make(map[model.BeadId]bool, len(order))

	for _, id := range order {
		best[id] = weights[id]
	}
	for _, id := range order {
		for _, next := range d.dependents(id) {
			cand := best[id] + weights[next]
			if cand > best[next] {
				best[next] = cand
				prev[next] = id
				hasPrev[next] = true
			}
		}
	}

	var endID model.BeadId
	bestVal := -1
	found := false
	for _, id := range order {
		v := best[id]
		if !found || v > bestVal {
			bestVal = v
			endID = id
			found = true
		}
	}
	if !found {
		return nil
	}

	path := []model.BeadId{endID}
	cur := endID
	for hasPrev[cur] {
		cur = prev[cur]
		path = append([]model.BeadId{cur}, path...)
	}
	return path
}

func removeEdge(edges []edge, target edge) []edge {
	out := edges[:0:0]
	for _, e := range edges {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
