// Package worker implements a claim-and-execute bead worker: it polls
// the scheduler for ready beads, claims one, executes its spec string
// through a Runner, and reports completion; on failure it reports a
// retry (the claim is dropped so another worker can pick the bead up)
// or, once the bead's retry budget is spent, a terminal failure.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/antigravity-dev/weave/internal/model"
	"github.com/antigravity-dev/weave/internal/scheduler"
	"github.com/antigravity-dev/weave/internal/store"
)

// Runner executes a single bead's spec string to completion. Errors are
// treated as execution failure; the worker then reports the bead for
// retry, or as terminally failed once its retry budget is spent.
type Runner interface {
	RunSpec(ctx context.Context, spec string) error
}

// Worker is a supervisor.Child: its Run method loops polling the
// scheduler until ctx is cancelled, so it can be spawned under a
// supervisor and restarted on crash like any other child.
type Worker struct {
	id           model.WorkerId
	scheduler    *scheduler.Scheduler
	store        *store.Store
	runner       Runner
	pollInterval time.Duration
	execTimeout  time.Duration
	maxRestarts  int
	logger       *slog.Logger
}

// New returns a Worker identified by id, polling sched for ready beads
// every pollInterval and bounding each execution by execTimeout. A bead
// whose RunSpec fails is retried until its persisted RestartCount
// reaches maxRestarts, at which point it is reported terminally failed
// instead of released back to the ready pool.
func New(id model.WorkerId, sched *scheduler.Scheduler, st *store.Store, runner Runner, pollInterval, execTimeout time.Duration, maxRestarts int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:           id,
		scheduler:    sched,
		store:        st,
		runner:       runner,
		pollInterval: pollInterval,
		execTimeout:  execTimeout,
		maxRestarts:  maxRestarts,
		logger:       logger,
	}
}

// Run polls for ready beads until ctx is cancelled, claiming and
// executing at most one bead per poll.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick claims and executes the first ready bead this worker can win the
// claim race for, if any.
func (w *Worker) tick(ctx context.Context) {
	ready, err := w.scheduler.GetAllReadyBeads(ctx)
	if err != nil {
		w.logger.Warn("worker poll failed", "worker", w.id, "error", err)
		return
	}
	for _, beadID := range ready {
		if err := w.scheduler.ClaimBead(ctx, beadID, w.id); err != nil {
			if _, collided := err.(*model.BeadAlreadyClaimed); collided {
				continue
			}
			w.logger.Warn("claim failed", "worker", w.id, "bead_id", beadID, "error", err)
			continue
		}
		w.execute(ctx, beadID)
		return
	}
}

func (w *Worker) execute(ctx context.Context, beadID model.BeadId) {
	bead, err := w.store.GetBead(beadID)
	if err != nil {
		w.logger.Warn("failed to load bead spec, releasing claim", "worker", w.id, "bead_id", beadID, "error", err)
		w.release(ctx, beadID)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	defer cancel()

	if err := w.runner.RunSpec(execCtx, bead.Spec); err != nil {
		if bead.RestartCount+1 >= w.maxRestarts {
			w.logger.Warn("bead execution failed, retry budget exhausted, marking terminally failed",
				"worker", w.id, "bead_id", beadID, "error", err, "restart_count", bead.RestartCount+1)
			if ferr := w.scheduler.OnBeadFailed(ctx, beadID); ferr != nil {
				w.logger.Warn("failed to report terminal bead failure", "worker", w.id, "bead_id", beadID, "error", ferr)
			}
			return
		}
		w.logger.Warn("bead execution failed, releasing claim for retry", "worker", w.id, "bead_id", beadID, "error", err, "restart_count", bead.RestartCount+1)
		if rerr := w.scheduler.OnBeadRetry(ctx, beadID); rerr != nil {
			w.logger.Warn("failed to record bead retry", "worker", w.id, "bead_id", beadID, "error", rerr)
		}
		return
	}

	if err := w.scheduler.OnBeadCompleted(ctx, beadID); err != nil {
		w.logger.Warn("failed to report bead completion", "worker", w.id, "bead_id", beadID, "error", err)
	}
}

func (w *Worker) release(ctx context.Context, beadID model.BeadId) {
	if err := w.scheduler.ReleaseBead(ctx, beadID); err != nil {
		w.logger.Warn("failed to release claim", "worker", w.id, "bead_id", beadID, "error", err)
	}
}
