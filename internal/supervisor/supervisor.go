// Package supervisor implements the supervisor actor (spec §4.6): spawns
// and monitors child actors, restarts them with saturating exponential
// backoff, tracks a sliding failure window, and classifies the failure
// rate as Normal/Warning/Meltdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/antigravity-dev/weave/internal/model"
)

// Child is anything a Supervisor can spawn and monitor. Run blocks until
// the child stops; a non-nil error is treated as a failure for restart
// and meltdown accounting, a nil error as an intentional exit.
type Child interface {
	Run(ctx context.Context) error
}

// ChildFunc adapts a plain function to the Child interface.
type ChildFunc func(ctx context.Context) error

func (f ChildFunc) Run(ctx context.Context) error { return f(ctx) }

// RestartStrategy decides whether a failed child should be restarted.
type RestartStrategy interface {
	ShouldRestart(restarts int, cfg Config) bool
}

// OneForOne restarts only the child that failed, up to cfg.MaxRestarts.
type OneForOne struct{}

func (OneForOne) ShouldRestart(restarts int, cfg Config) bool {
	return restarts < cfg.MaxRestarts
}

// State is the supervisor's own lifecycle state.
type State string

const (
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
)

// MeltdownStatus classifies the current failure rate.
type MeltdownStatus string

const (
	MeltdownNormal   MeltdownStatus = "normal"
	MeltdownWarning  MeltdownStatus = "warning"
	MeltdownMeltdown MeltdownStatus = "meltdown"
)

// Config holds the supervisor's tunable policy.
type Config struct {
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxRestarts   int
	Window        time.Duration
	WarningRate   float64 // failures per second
	MeltdownRate  float64 // failures per second
	ShutdownGrace time.Duration
}

// ChildStatus is the per-child breakdown enriching SupervisorStatus,
// grounded on original_source's supervisor_actor.rs per-child restart
// counters.
type ChildStatus struct {
	Name     string
	ActorID  string
	Restarts int
	Running  bool
}

// Status is the reply shape for a GetStatus query (spec §4.6).
type Status struct {
	State            State
	MeltdownStatus   MeltdownStatus
	ActiveChildren   int
	TotalRestarts    int
	FailuresInWindow int
	Children         []ChildStatus
}

type childRecord struct {
	name     string
	child    Child
	counter  int
	actorID  string
	restarts int
	running  bool
	cancel   context.CancelFunc
}

type spawnCmd struct {
	name  string
	child Child
	reply chan spawnReply
}

type spawnReply struct {
	actorID string
	err     error
}

type restartMsg struct {
	name string
}

type childExitedMsg struct {
	name    string
	actorID string
	err     error
}

type statusQuery struct {
	reply chan Status
}

// Supervisor is a single-threaded cooperative actor: exactly one
// command is handled at a time inside Run.
type Supervisor struct {
	cfg      Config
	strategy RestartStrategy
	logger   *slog.Logger

	spawnCh    chan spawnCmd
	restartCh  chan restartMsg
	exitedCh   chan childExitedMsg
	statusCh   chan statusQuery
	shutdownCh chan chan struct{}

	// actor-private state, touched only from inside Run.
	children          map[string]*childRecord
	nextCounter       int
	state             State
	failureTimestamps []time.Time
	totalRestarts     int
}

// New returns a Supervisor ready to be started with Run.
func New(cfg Config, strategy RestartStrategy, logger *slog.Logger) *Supervisor {
	if strategy == nil {
		strategy = OneForOne{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Supervisor{
		cfg:        cfg,
		strategy:   strategy,
		logger:     logger,
		spawnCh:    make(chan spawnCmd),
		restartCh:  make(chan restartMsg, 16),
		exitedCh:   make(chan childExitedMsg, 16),
		statusCh:   make(chan statusQuery),
		shutdownCh: make(chan chan struct{}),
		children:   make(map[string]*childRecord),
		state:      StateRunning,
	}
}

// Spawn asks the supervisor to start a new child under the given logical
// name, returning the unique actor id derived from the name and the
// supervisor's monotonic counter.
func (s *Supervisor) Spawn(ctx context.Context, name string, child Child) (string, error) {
	reply := make(chan spawnReply, 1)
	select {
	case s.spawnCh <- spawnCmd{name: name, child: child, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-reply:
		return r.actorID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetStatus queries the supervisor's current status snapshot.
func (s *Supervisor) GetStatus(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case s.statusCh <- statusQuery{reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Shutdown moves the supervisor to ShuttingDown, signals every live
// child to stop, and waits up to cfg.ShutdownGrace for them to exit (or
// for ctx to be cancelled) before returning.
func (s *Supervisor) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	select {
	case s.shutdownCh <- done:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Run is the supervisor's actor loop. It returns when Shutdown completes,
// when a child failure triggers meltdown, or when ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-s.spawnCh:
			s.handleSpawn(ctx, cmd)
		case msg := <-s.restartCh:
			s.handleRestart(ctx, msg)
		case msg := <-s.exitedCh:
			if s.handleExited(msg) {
				return
			}
		case q := <-s.statusCh:
			q.reply <- s.snapshot()
		case reply := <-s.shutdownCh:
			s.handleShutdown(reply)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleSpawn(ctx context.Context, cmd spawnCmd) {
	if s.state == StateShuttingDown {
		cmd.reply <- spawnReply{err: &model.SpawnFailed{Name: cmd.name, Reason: "supervisor is shutting down"}}
		return
	}
	if _, exists := s.children[cmd.name]; exists {
		cmd.reply <- spawnReply{err: &model.SpawnFailed{Name: cmd.name, Reason: "already spawned"}}
		return
	}

	s.nextCounter++
	rec := &childRecord{
		name:    cmd.name,
		child:   cmd.child,
		counter: s.nextCounter,
		actorID: fmt.Sprintf("%s-%d", cmd.name, s.nextCounter),
	}
	s.children[cmd.name] = rec
	s.startChild(ctx, rec)
	cmd.reply <- spawnReply{actorID: rec.actorID}
}

func (s *Supervisor) handleRestart(ctx context.Context, msg restartMsg) {
	rec, ok := s.children[msg.name]
	if !ok || s.state == StateShuttingDown {
		return
	}
	s.nextCounter++
	rec.counter = s.nextCounter
	rec.actorID = fmt.Sprintf("%s-%d", rec.name, rec.counter)
	s.startChild(ctx, rec)
}

func (s *Supervisor) startChild(ctx context.Context, rec *childRecord) {
	childCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	rec.running = true
	go func(name, actorID string, child Child) {
		err := child.Run(childCtx)
		s.exitedCh <- childExitedMsg{name: name, actorID: actorID, err: err}
	}(rec.name, rec.actorID, rec.child)
}

// handleExited returns true if the supervisor should stop entirely
// (meltdown triggered).
func (s *Supervisor) handleExited(msg childExitedMsg) bool {
	rec, ok := s.children[msg.name]
	if !ok || rec.actorID != msg.actorID {
		// Stale exit from a since-superseded incarnation.
		return false
	}
	rec.running = false

	if msg.err == nil {
		s.logger.Info("child exited cleanly", "actor_id", msg.actorID)
		delete(s.children, msg.name)
		return false
	}

	s.logger.Warn("child failed", "actor_id", msg.actorID, "error", msg.err)
	s.recordFailure(time.Now())

	if s.classifyMeltdown() == MeltdownMeltdown {
		s.logger.Error("meltdown threshold exceeded, shutting down", "failures_in_window", len(s.failureTimestamps))
		s.state = StateShuttingDown
		for _, r := range s.children {
			if r.running {
				r.cancel()
			}
		}
		return true
	}

	if !s.strategy.ShouldRestart(rec.restarts, s.cfg) {
		s.logger.Warn("child exceeded max restarts, no longer supervised", "name", rec.name, "restarts", rec.restarts)
		delete(s.children, msg.name)
		return false
	}

	delay := Backoff(rec.restarts, s.cfg.BaseBackoff, s.cfg.MaxBackoff)
	rec.restarts++
	s.totalRestarts++

	go func(name string) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C
		s.restartCh <- restartMsg{name: name}
	}(rec.name)

	return false
}

func (s *Supervisor) recordFailure(at time.Time) {
	s.failureTimestamps = append(s.failureTimestamps, at)
	s.pruneWindow(at)
}

func (s *Supervisor) pruneWindow(now time.Time) {
	if s.cfg.Window <= 0 {
		return
	}
	cutoff := now.Add(-s.cfg.Window)
	i := sort.Search(len(s.failureTimestamps), func(i int) bool {
		return s.failureTimestamps[i].After(cutoff)
	})
	s.failureTimestamps = s.failureTimestamps[i:]
}

func (s *Supervisor) classifyMeltdown() MeltdownStatus {
	if s.cfg.Window <= 0 {
		return MeltdownNormal
	}
	rate := float64(len(s.failureTimestamps)) / s.cfg.Window.Seconds()
	switch {
	case s.cfg.MeltdownRate > 0 && rate >= s.cfg.MeltdownRate:
		return MeltdownMeltdown
	case s.cfg.WarningRate > 0 && rate >= s.cfg.WarningRate:
		return MeltdownWarning
	default:
		return MeltdownNormal
	}
}

func (s *Supervisor) handleShutdown(done chan struct{}) {
	s.state = StateShuttingDown
	for _, r := range s.children {
		if r.running {
			r.cancel()
		}
	}

	deadline := time.NewTimer(s.cfg.ShutdownGrace)
	defer deadline.Stop()
	for s.activeChildren() > 0 {
		select {
		case msg := <-s.exitedCh:
			if rec, ok := s.children[msg.name]; ok && rec.actorID == msg.actorID {
				rec.running = false
			}
		case <-deadline.C:
			close(done)
			return
		}
	}
	close(done)
}

func (s *Supervisor) activeChildren() int {
	n := 0
	for _, r := range s.children {
		if r.running {
			n++
		}
	}
	return n
}

func (s *Supervisor) snapshot() Status {
	children := make([]ChildStatus, 0, len(s.children))
	for _, r := range s.children {
		children = append(children, ChildStatus{Name: r.name, ActorID: r.actorID, Restarts: r.restarts, Running: r.running})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return Status{
		State:            s.state,
		MeltdownStatus:   s.classifyMeltdown(),
		ActiveChildren:   s.activeChildren(),
		TotalRestarts:    s.totalRestarts,
		FailuresInWindow: len(s.failureTimestamps),
		Children:         children,
	}
}
