// Command weaved is the weave daemon: it wires the persistence store,
// event store/bus, scheduler, supervisor, shutdown coordinator, and a
// docker-backed worker pool into one running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antigravity-dev/weave/internal/config"
	"github.com/antigravity-dev/weave/internal/eventbus"
	"github.com/antigravity-dev/weave/internal/eventstore"
	"github.com/antigravity-dev/weave/internal/logging"
	"github.com/antigravity-dev/weave/internal/model"
	"github.com/antigravity-dev/weave/internal/scheduler"
	"github.com/antigravity-dev/weave/internal/shutdown"
	"github.com/antigravity-dev/weave/internal/store"
	"github.com/antigravity-dev/weave/internal/supervisor"
	"github.com/antigravity-dev/weave/internal/worker"
)

func main() {
	configPath := flag.String("config", "weave.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	numWorkers := flag.Int("workers", 1, "number of docker worker actors to spawn")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("weaved starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.General.StateDB, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	evStore := eventstore.New(
		eventstore.WithPersister(st),
		eventstore.WithRetention(cfg.EventStore.RetentionMaxEvents),
	)
	bus := eventbus.New(evStore, cfg.EventBus.BroadcastCapacity)

	schedCfg := scheduler.Config{ChannelCapacity: cfg.EventBus.ChannelCapacity, BreakerThreshold: cfg.EventBus.BreakerThreshold}
	sched := scheduler.New(st, bus, schedCfg, logger.With("component", "scheduler"))
	// Per-workflow recovery (sched.Recover) is not run here: it needs a
	// workflow id, and the store has no "list all workflows" query to
	// supply one.

	shutdownCoord := shutdown.New(cfg.Shutdown.Deadline.Duration, logger.With("component", "shutdown"))

	sup := supervisor.New(supervisor.Config{
		BaseBackoff:   cfg.Supervisor.BaseBackoff.Duration,
		MaxBackoff:    cfg.Supervisor.MaxBackoff.Duration,
		MaxRestarts:   cfg.Supervisor.MaxRestarts,
		Window:        cfg.Supervisor.Window.Duration,
		WarningRate:   cfg.Supervisor.WarningRate,
		MeltdownRate:  cfg.Supervisor.MeltdownRate,
		ShutdownGrace: cfg.Supervisor.ShutdownGrace.Duration,
	}, supervisor.OneForOne{}, logger.With("component", "supervisor"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)
	go sup.Run(ctx)

	runner, err := worker.NewDockerRunner(cfg.Worker.Image, cfg.Worker.RemoveOnFinish)
	if err != nil {
		logger.Error("failed to build docker runner", "error", err)
		os.Exit(1)
	}

	for i := 0; i < *numWorkers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		w := worker.New(model.WorkerId(name), sched, st, runner, cfg.Worker.ClaimPoll.Duration, cfg.Worker.ExecTimeout.Duration, cfg.Worker.MaxBeadRestarts, logger.With("component", "worker", "worker_id", name))
		if _, err := sup.Spawn(ctx, name, w); err != nil {
			logger.Error("failed to spawn worker", "worker", name, "error", err)
		}
	}

	sub := shutdownCoord.Subscribe("scheduler")
	go func() {
		<-sub.Done
		sub.Ack(shutdown.CheckpointResult{Name: "scheduler"})
	}()

	logger.Info("weaved running", "state_db", cfg.General.StateDB, "workers", *numWorkers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownStart := time.Now()
	cancel()
	shutdownCoord.Shutdown()
	sup.Shutdown(context.Background())
	shutdownCoord.Run(context.Background())
	logger.Info("weaved stopped", "shutdown_duration", time.Since(shutdownStart).String())
}
