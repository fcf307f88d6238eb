// Package scheduler implements the Scheduler actor (spec §4.3): it owns
// every workflow's DAG, the scheduling sub-state projection of each
// tracked bead, and the claim table, and is the only component that
// mutates any of them. Like internal/supervisor, it is a single-threaded
// actor: every command and query is a closure handed to Run over one
// channel, so no lock is ever held across a suspension point.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/antigravity-dev/weave/internal/beadstate"
	"github.com/antigravity-dev/weave/internal/eventbus"
	"github.com/antigravity-dev/weave/internal/graph"
	"github.com/antigravity-dev/weave/internal/model"
	"github.com/antigravity-dev/weave/internal/store"
)

// schedulerBreakerThreshold is effectively "never trips": it is the
// default breaker threshold for the scheduler's own event-bus
// subscription, which must not lose delivery just because it was briefly
// slow, since OnBeadCompleted/OnStateChanged forwarding is how the
// scheduler learns about progress at all. A Config with an explicit,
// lower BreakerThreshold (e.g. from internal/config.EventBus) overrides
// this default.
const schedulerBreakerThreshold = 1 << 30

// defaultChannelCapacity is the scheduler's own subscription's channel
// capacity when Config does not specify one.
const defaultChannelCapacity = 64

// Config carries the scheduler's tunable event-bus subscription
// parameters, sourced from internal/config.EventBus. The zero value
// means "use the scheduler's own defaults".
type Config struct {
	ChannelCapacity  int
	BreakerThreshold int
}

// DefaultConfig returns the scheduler's built-in event-bus subscription
// defaults, for callers that have no internal/config.Config to source
// them from (tests, one-shot weavectl commands).
func DefaultConfig() Config {
	return Config{ChannelCapacity: defaultChannelCapacity, BreakerThreshold: schedulerBreakerThreshold}
}

// Scheduler owns the workflow graphs, the scheduling projection, and the
// claim table. Construct with New and start with Run in its own
// goroutine; every exported method is safe to call concurrently, each
// one blocking until the actor has processed it.
type Scheduler struct {
	store  *store.Store
	bus    *eventbus.Bus
	logger *slog.Logger

	channelCapacity  int
	breakerThreshold int

	cmdCh chan func(*Scheduler)

	workflows map[model.WorkflowId]*graph.DAG
	beads     map[model.BeadId]*trackedBead
	claims    map[model.BeadId]model.WorkerId
}

type trackedBead struct {
	sched model.ScheduledBead
	state model.BeadState
}

// New returns a Scheduler ready to be started with Run. bus may be nil,
// in which case the scheduler only reacts to direct command calls. A
// zero-value cfg falls back to DefaultConfig's values.
func New(st *store.Store, bus *eventbus.Bus, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = defaultChannelCapacity
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = schedulerBreakerThreshold
	}
	return &Scheduler{
		store:            st,
		bus:              bus,
		logger:           logger,
		channelCapacity:  cfg.ChannelCapacity,
		breakerThreshold: cfg.BreakerThreshold,
		cmdCh:            make(chan func(*Scheduler)),
		workflows:        make(map[model.WorkflowId]*graph.DAG),
		beads:            make(map[model.BeadId]*trackedBead),
		claims:           make(map[model.BeadId]model.WorkerId),
	}
}

// Run is the scheduler's actor loop. It returns when ctx is cancelled.
// If bus is non-nil, Run also subscribes to EventCompleted and
// EventStateChanged and folds them into its own state via the same
// serialized command path real callers use.
func (s *Scheduler) Run(ctx context.Context) {
	var events <-chan model.BeadEvent
	if s.bus != nil {
		sub := s.bus.Subscribe(eventbus.ByTypes(model.EventCompleted, model.EventStateChanged), s.channelCapacity, s.breakerThreshold)
		events = sub.Events
		defer s.bus.Unsubscribe(sub.ID)
	}

	for {
		select {
		case fn := <-s.cmdCh:
			fn(s)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleEvent(ev model.BeadEvent) {
	switch ev.Kind {
	case model.EventCompleted:
		if err := s.onBeadCompleted(ev.BeadID); err != nil {
			s.logger.Warn("onBeadCompleted from event failed", "bead_id", ev.BeadID, "error", err)
		}
	case model.EventStateChanged:
		if err := s.onStateChanged(ev.BeadID, ev.FromState, ev.ToState); err != nil {
			s.logger.Warn("onStateChanged from event failed", "bead_id", ev.BeadID, "error", err)
		}
	}
}

// do hands fn to the actor loop and blocks until it has run, or ctx is
// cancelled.
func (s *Scheduler) do(ctx context.Context, fn func(*Scheduler)) error {
	done := make(chan struct{})
	wrapped := func(sch *Scheduler) {
		fn(sch)
		close(done)
	}
	select {
	case s.cmdCh <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterWorkflow creates a new empty WorkflowState. Fails if id is
// already registered.
func (s *Scheduler) RegisterWorkflow(ctx context.Context, id model.WorkflowId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		if _, exists := sch.workflows[id]; exists {
			result = fmt.Errorf("workflow %s already registered", id)
			return
		}
		sch.workflows[id] = graph.New()
	})
	if err != nil {
		return err
	}
	return result
}

// UnregisterWorkflow destroys a workflow's DAG and drops every tracked
// bead and claim belonging to it.
func (s *Scheduler) UnregisterWorkflow(ctx context.Context, id model.WorkflowId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		if _, exists := sch.workflows[id]; !exists {
			result = &model.WorkflowNotFound{WorkflowID: id}
			return
		}
		delete(sch.workflows, id)
		for beadID, tb := range sch.beads {
			if tb.sched.WorkflowID == id {
				delete(sch.beads, beadID)
				delete(sch.claims, beadID)
			}
		}
	})
	if err != nil {
		return err
	}
	return result
}

// ScheduleBead adds a bead to its workflow's DAG along with its
// DependsOn and Blocks edges, and begins tracking it in the Pending
// sub-state. The underlying persistence store is written before this
// call returns successfully.
func (s *Scheduler) ScheduleBead(ctx context.Context, workflowID model.WorkflowId, beadID model.BeadId, spec string, dependsOn, blocks []model.BeadId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		dag, ok := sch.workflows[workflowID]
		if !ok {
			result = &model.WorkflowNotFound{WorkflowID: workflowID}
			return
		}
		if err := dag.AddNode(beadID); err != nil {
			result = err
			return
		}
		for _, dep := range dependsOn {
			if err := dag.AddEdge(beadID, dep, model.DependsOn); err != nil {
				result = err
				return
			}
		}
		for _, blocker := range blocks {
			if err := dag.AddEdge(blocker, beadID, model.Blocks); err != nil {
				result = err
				return
			}
		}

		sch.beads[beadID] = &trackedBead{
			sched: model.ScheduledBead{BeadID: beadID, WorkflowID: workflowID, SubState: model.SubPending},
			state: model.Pending,
		}

		if sch.store != nil {
			now := time.Now()
			bead := model.Bead{ID: beadID, WorkflowID: workflowID, Spec: spec, State: model.Pending, LastStateChangeTs: &now}
			if err := sch.store.PutBead(bead); err != nil {
				result = err
				return
			}
			for _, dep := range dependsOn {
				edge := model.DependencyEdge{Src: beadID, Dst: dep, Relation: model.DependsOn, Created: now}
				if err := sch.store.PutEdge(edge); err != nil {
					result = err
					return
				}
			}
			for _, blocker := range blocks {
				edge := model.DependencyEdge{Src: blocker, Dst: beadID, Relation: model.Blocks, Created: now}
				if err := sch.store.PutEdge(edge); err != nil {
					result = err
					return
				}
			}
		}

		sch.recomputeSubState(workflowID)
		sch.publish(model.EventCreated, beadID, &workflowID, "", "")
	})
	if err != nil {
		return err
	}
	return result
}

// AddDependency inserts one more labeled edge into an already-registered
// workflow's DAG, rejecting it with model.CycleWouldForm if it would
// create a cycle. gating is the bead whose outcome governs gated: for
// DependsOn, gated cannot start until gating completes; for Blocks,
// gated cannot execute if gating fails terminally.
func (s *Scheduler) AddDependency(ctx context.Context, workflowID model.WorkflowId, gating, gated model.BeadId, relation model.Relation) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		dag, ok := sch.workflows[workflowID]
		if !ok {
			result = &model.WorkflowNotFound{WorkflowID: workflowID}
			return
		}
		var addErr error
		var edge model.DependencyEdge
		switch relation {
		case model.DependsOn:
			// DAG edges run dependent->prerequisite; gated is the
			// dependent, gating is its prerequisite.
			addErr = dag.AddEdge(gated, gating, relation)
			edge = model.DependencyEdge{Src: gated, Dst: gating, Relation: relation, Created: time.Now()}
		case model.Blocks:
			// DAG edges run failer->vetoed, matching (gating, gated)
			// directly.
			addErr = dag.AddEdge(gating, gated, relation)
			edge = model.DependencyEdge{Src: gating, Dst: gated, Relation: relation, Created: time.Now()}
		default:
			result = fmt.Errorf("scheduler: unknown relation %q", relation)
			return
		}
		if addErr != nil {
			result = addErr
			return
		}
		if sch.store != nil {
			if err := sch.store.PutEdge(edge); err != nil {
				result = err
				return
			}
		}
		sch.recomputeSubState(workflowID)
	})
	if err != nil {
		return err
	}
	return result
}

// ClaimBead assigns a bead to a worker. Fails with model.BeadNotFound if
// unknown, or model.BeadAlreadyClaimed if another worker already holds
// it.
func (s *Scheduler) ClaimBead(ctx context.Context, beadID model.BeadId, worker model.WorkerId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		tb, ok := sch.beads[beadID]
		if !ok {
			result = &model.BeadNotFound{BeadID: beadID}
			return
		}
		if existing, claimed := sch.claims[beadID]; claimed {
			result = &model.BeadAlreadyClaimed{BeadID: beadID, Worker: existing}
			return
		}
		if tb.state == model.Pending {
			if err := beadstate.Apply(tb.state, model.Scheduled); err != nil {
				result = err
				return
			}
		} else if tb.state != model.Scheduled {
			result = &model.IllegalTransition{From: tb.state, To: model.Scheduled}
			return
		}
		sch.claims[beadID] = worker
		tb.sched.SubState = model.SubAssigned
		now := time.Now()
		tb.state = model.Scheduled
		if sch.store != nil {
			bead, err := sch.store.GetBead(beadID)
			if err != nil {
				result = err
				return
			}
			bead.State = tb.state
			bead.LastClaimWorker = &worker
			bead.LastStateChangeTs = &now
			if err := sch.store.PutBead(bead); err != nil {
				result = err
				return
			}
		}
		sch.publish(model.EventClaimed, beadID, &tb.sched.WorkflowID, "", "")
	})
	if err != nil {
		return err
	}
	return result
}

// ReleaseBead drops a worker's claim on a bead, returning it to the
// Ready sub-state.
func (s *Scheduler) ReleaseBead(ctx context.Context, beadID model.BeadId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		tb, ok := sch.beads[beadID]
		if !ok {
			result = &model.BeadNotFound{BeadID: beadID}
			return
		}
		delete(sch.claims, beadID)
		tb.sched.SubState = model.SubReady
		sch.publish(model.EventReleased, beadID, &tb.sched.WorkflowID, "", "")
	})
	if err != nil {
		return err
	}
	return result
}

// OnBeadCompleted records a bead as completed in its workflow's DAG,
// drops its ScheduledBead tracking entry, releases any claim it held,
// and recomputes readiness for the rest of the workflow.
func (s *Scheduler) OnBeadCompleted(ctx context.Context, beadID model.BeadId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		result = sch.onBeadCompleted(beadID)
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Scheduler) onBeadCompleted(beadID model.BeadId) error {
	tb, ok := s.beads[beadID]
	if !ok {
		return &model.BeadNotFound{BeadID: beadID}
	}
	dag, ok := s.workflows[tb.sched.WorkflowID]
	if !ok {
		return &model.WorkflowNotFound{WorkflowID: tb.sched.WorkflowID}
	}
	dag.MarkCompleted(beadID)
	delete(s.claims, beadID)

	now := time.Now()
	if s.store != nil {
		bead := model.Bead{ID: beadID, WorkflowID: tb.sched.WorkflowID, State: model.Completed, LastStateChangeTs: &now}
		if err := s.store.PutBead(bead); err != nil {
			return err
		}
	}
	s.publish(model.EventCompleted, beadID, &tb.sched.WorkflowID, tb.state, model.Completed)

	workflowID := tb.sched.WorkflowID
	delete(s.beads, beadID)
	s.recomputeSubState(workflowID)
	return nil
}

// OnStateChanged is the worker-reported mirror of the canonical bead
// state machine (spec §4.1), which the worker executing the bead owns.
// It validates the reported transition against beadstate.Apply before
// updating the scheduler's cached copy of the bead's state; an illegal
// transition is logged and rejected rather than stored.
func (s *Scheduler) OnStateChanged(ctx context.Context, beadID model.BeadId, from, to model.BeadState) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		result = sch.onStateChanged(beadID, from, to)
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Scheduler) onStateChanged(beadID model.BeadId, from, to model.BeadState) error {
	if err := beadstate.Apply(from, to); err != nil {
		s.logger.Warn("rejected illegal bead state transition", "bead_id", beadID, "from", from, "to", to, "error", err)
		return err
	}
	tb, ok := s.beads[beadID]
	var workflowID *model.WorkflowId
	if ok {
		tb.state = to
		workflowID = &tb.sched.WorkflowID
	}
	s.logger.Info("bead state changed", "bead_id", beadID, "from", from, "to", to)
	s.publish(model.EventStateChanged, beadID, workflowID, from, to)
	return nil
}

// OnBeadRetry records a bounded, retryable execution failure: the
// bead's persisted restart count is incremented, its claim is dropped,
// and it returns to the Ready sub-state for another worker to pick up.
// It leaves the DAG untouched; OnBeadFailed is the terminal counterpart
// once a worker has exhausted its retry budget.
func (s *Scheduler) OnBeadRetry(ctx context.Context, beadID model.BeadId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		result = sch.onBeadRetry(beadID)
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Scheduler) onBeadRetry(beadID model.BeadId) error {
	tb, ok := s.beads[beadID]
	if !ok {
		return &model.BeadNotFound{BeadID: beadID}
	}
	from := tb.state
	now := time.Now()
	if s.store != nil {
		bead, err := s.store.GetBead(beadID)
		if err != nil {
			return err
		}
		bead.RestartCount++
		bead.State = model.Scheduled
		bead.LastStateChangeTs = &now
		if err := s.store.PutBead(bead); err != nil {
			return err
		}
	}
	delete(s.claims, beadID)
	tb.state = model.Scheduled
	tb.sched.SubState = model.SubReady
	s.publish(model.EventStateChanged, beadID, &tb.sched.WorkflowID, from, model.Scheduled)
	return nil
}

// OnBeadFailed records a bead as permanently, terminally failed: its
// workflow's DAG records it in the failed set so incoming Blocks edges
// veto every bead it gates (spec §3/§4.1), its claim is dropped, and its
// scheduler tracking entry is removed since no further work will ever be
// scheduled for it.
func (s *Scheduler) OnBeadFailed(ctx context.Context, beadID model.BeadId) error {
	var result error
	err := s.do(ctx, func(sch *Scheduler) {
		result = sch.onBeadFailed(beadID)
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Scheduler) onBeadFailed(beadID model.BeadId) error {
	tb, ok := s.beads[beadID]
	if !ok {
		return &model.BeadNotFound{BeadID: beadID}
	}
	dag, ok := s.workflows[tb.sched.WorkflowID]
	if !ok {
		return &model.WorkflowNotFound{WorkflowID: tb.sched.WorkflowID}
	}
	dag.MarkFailed(beadID)
	delete(s.claims, beadID)

	from := tb.state
	now := time.Now()
	if s.store != nil {
		bead, err := s.store.GetBead(beadID)
		if err != nil {
			return err
		}
		bead.State = model.Suspended
		bead.RestartCount++
		bead.LastStateChangeTs = &now
		if err := s.store.PutBead(bead); err != nil {
			return err
		}
	}
	s.publish(model.EventFailed, beadID, &tb.sched.WorkflowID, from, model.Suspended)

	workflowID := tb.sched.WorkflowID
	delete(s.beads, beadID)
	s.recomputeSubState(workflowID)
	return nil
}

// Shutdown is a no-op placeholder kept symmetric with Supervisor's API;
// the scheduler actor stops when its Run context is cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	return s.do(ctx, func(*Scheduler) {})
}

// GetWorkflowReadyBeads returns the ready beads of a single workflow, in
// deterministic sorted order.
func (s *Scheduler) GetWorkflowReadyBeads(ctx context.Context, workflowID model.WorkflowId) ([]model.BeadId, error) {
	var result []model.BeadId
	var outErr error
	err := s.do(ctx, func(sch *Scheduler) {
		dag, ok := sch.workflows[workflowID]
		if !ok {
			outErr = &model.WorkflowNotFound{WorkflowID: workflowID}
			return
		}
		result = dag.ReadyBeads()
	})
	if err != nil {
		return nil, err
	}
	return result, outErr
}

// GetAllReadyBeads returns the ready beads across every tracked
// workflow, sorted by id, excluding any bead a worker already holds a
// claim on.
func (s *Scheduler) GetAllReadyBeads(ctx context.Context) ([]model.BeadId, error) {
	var result []model.BeadId
	err := s.do(ctx, func(sch *Scheduler) {
		ids := make([]model.WorkflowId, 0, len(sch.workflows))
		for id := range sch.workflows {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]model.BeadId, 0)
		for _, id := range ids {
			for _, beadID := range sch.workflows[id].ReadyBeads() {
				if _, claimed := sch.claims[beadID]; claimed {
					continue
				}
				out = append(out, beadID)
			}
		}
		result = out
	})
	return result, err
}

// IsBeadReady reports whether a tracked bead is currently ready.
func (s *Scheduler) IsBeadReady(ctx context.Context, beadID model.BeadId) (bool, error) {
	var ready bool
	var outErr error
	err := s.do(ctx, func(sch *Scheduler) {
		tb, ok := sch.beads[beadID]
		if !ok {
			outErr = &model.BeadNotFound{BeadID: beadID}
			return
		}
		dag, ok := sch.workflows[tb.sched.WorkflowID]
		if !ok {
			outErr = &model.WorkflowNotFound{WorkflowID: tb.sched.WorkflowID}
			return
		}
		ready, outErr = dag.IsReady(beadID)
	})
	if err != nil {
		return false, err
	}
	return ready, outErr
}

// GetWorkflowStatus reports a workflow's total/completed/ready counts
// and whether every bead has reached Completed.
func (s *Scheduler) GetWorkflowStatus(ctx context.Context, workflowID model.WorkflowId) (model.WorkflowStatus, error) {
	var status model.WorkflowStatus
	var outErr error
	err := s.do(ctx, func(sch *Scheduler) {
		dag, ok := sch.workflows[workflowID]
		if !ok {
			outErr = &model.WorkflowNotFound{WorkflowID: workflowID}
			return
		}
		total := len(dag.Nodes())
		completed := dag.CompletedCount()
		status = model.WorkflowStatus{
			Total:      total,
			Completed:  completed,
			Ready:      len(dag.ReadyBeads()),
			IsComplete: total > 0 && completed == total,
		}
	})
	if err != nil {
		return model.WorkflowStatus{}, err
	}
	return status, outErr
}

// GetStats reports scheduler-wide counters.
func (s *Scheduler) GetStats(ctx context.Context) (model.SchedulerStats, error) {
	var stats model.SchedulerStats
	err := s.do(ctx, func(sch *Scheduler) {
		pending, ready := 0, 0
		for _, tb := range sch.beads {
			switch tb.sched.SubState {
			case model.SubPending:
				pending++
			case model.SubReady:
				ready++
			}
		}
		stats = model.SchedulerStats{
			Workflows:    len(sch.workflows),
			PendingBeads: pending,
			ReadyBeads:   ready,
			Assignments:  len(sch.claims),
		}
	})
	return stats, err
}

// recomputeSubState re-derives every tracked bead's sub-state projection
// in a workflow from the DAG's canonical readiness, per §4.3.1: the
// projection is never itself a source of truth.
func (s *Scheduler) recomputeSubState(workflowID model.WorkflowId) {
	dag, ok := s.workflows[workflowID]
	if !ok {
		return
	}
	ready := make(map[model.BeadId]struct{})
	for _, id := range dag.ReadyBeads() {
		ready[id] = struct{}{}
	}
	for beadID, tb := range s.beads {
		if tb.sched.WorkflowID != workflowID {
			continue
		}
		if _, claimed := s.claims[beadID]; claimed {
			tb.sched.SubState = model.SubAssigned
			continue
		}
		if _, isReady := ready[beadID]; isReady {
			tb.sched.SubState = model.SubReady
		} else {
			tb.sched.SubState = model.SubPending
		}
	}
}

func (s *Scheduler) publish(kind model.EventKind, beadID model.BeadId, workflowID *model.WorkflowId, from, to model.BeadState) {
	if s.bus == nil {
		return
	}
	event := model.BeadEvent{Kind: kind, BeadID: beadID, WorkflowID: workflowID, Timestamp: time.Now()}
	if kind == model.EventStateChanged {
		event.FromState = from
		event.ToState = to
	}
	if _, err := s.bus.Publish(event); err != nil {
		s.logger.Warn("failed to publish event", "kind", kind, "bead_id", beadID, "error", err)
	}
}

// Recover rebuilds scheduler-side tracking for a workflow from the
// durable store's find_blocked_beads query, for use at startup before
// Run begins accepting commands from other components. It is not itself
// serialized through the actor loop, so call it only before Run starts.
func (s *Scheduler) Recover(workflowID model.WorkflowId) error {
	if s.store == nil {
		return nil
	}
	blocked, err := s.store.FindBlockedBeads()
	if err != nil {
		return err
	}
	dag, ok := s.workflows[workflowID]
	if !ok {
		dag = graph.New()
		s.workflows[workflowID] = dag
	}
	for _, b := range blocked {
		if !dag.HasNode(b.BeadID) {
			_ = dag.AddNode(b.BeadID)
		}
	}
	s.recomputeSubState(workflowID)
	return nil
}
