// Command weavectl is a thin front-end over a Scheduler: each
// subcommand maps one-to-one onto a Scheduler command or query,
// operating directly against the configured persistence store (spec
// §6 — weavectl is a collaborator, not part of the core).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/antigravity-dev/weave/internal/config"
	"github.com/antigravity-dev/weave/internal/eventbus"
	"github.com/antigravity-dev/weave/internal/eventstore"
	"github.com/antigravity-dev/weave/internal/logging"
	"github.com/antigravity-dev/weave/internal/model"
	"github.com/antigravity-dev/weave/internal/scheduler"
	"github.com/antigravity-dev/weave/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: weavectl -config PATH <command> [args...]

commands:
  register-workflow WORKFLOW_ID
  schedule-bead WORKFLOW_ID BEAD_ID SPEC [DEPENDS_ON,...] [BLOCKS,...]
  add-dependency WORKFLOW_ID GATING GATED depends_on|blocks
  claim-bead BEAD_ID WORKER_ID
  release-bead BEAD_ID
  complete-bead BEAD_ID
  ready-beads [WORKFLOW_ID]
  status WORKFLOW_ID
  stats
  shutdown`)
}

func main() {
	configPath := flag.String("config", "weave.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weavectl: loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.General.LogLevel, *dev)

	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weavectl: opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	evStore := eventstore.New(eventstore.WithPersister(st), eventstore.WithRetention(cfg.EventStore.RetentionMaxEvents))
	bus := eventbus.New(evStore, cfg.EventBus.BroadcastCapacity)
	schedCfg := scheduler.Config{ChannelCapacity: cfg.EventBus.ChannelCapacity, BreakerThreshold: cfg.EventBus.BreakerThreshold}
	sched := scheduler.New(st, bus, schedCfg, logger.With("component", "scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	if err := dispatch(ctx, sched, cmd, rest); err != nil {
		fmt.Fprintf(os.Stderr, "weavectl: %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, sched *scheduler.Scheduler, cmd string, args []string) error {
	switch cmd {
	case "register-workflow":
		if len(args) != 1 {
			return fmt.Errorf("register-workflow WORKFLOW_ID")
		}
		return sched.RegisterWorkflow(ctx, model.WorkflowId(args[0]))

	case "schedule-bead":
		if len(args) < 3 {
			return fmt.Errorf("schedule-bead WORKFLOW_ID BEAD_ID SPEC [DEPENDS_ON,...] [BLOCKS,...]")
		}
		var dependsOn, blocks []model.BeadId
		if len(args) > 3 {
			dependsOn = parseBeadList(args[3])
		}
		if len(args) > 4 {
			blocks = parseBeadList(args[4])
		}
		return sched.ScheduleBead(ctx, model.WorkflowId(args[0]), model.BeadId(args[1]), args[2], dependsOn, blocks)

	case "add-dependency":
		if len(args) != 4 {
			return fmt.Errorf("add-dependency WORKFLOW_ID GATING GATED depends_on|blocks")
		}
		relation, err := parseRelation(args[3])
		if err != nil {
			return err
		}
		return sched.AddDependency(ctx, model.WorkflowId(args[0]), model.BeadId(args[1]), model.BeadId(args[2]), relation)

	case "claim-bead":
		if len(args) != 2 {
			return fmt.Errorf("claim-bead BEAD_ID WORKER_ID")
		}
		return sched.ClaimBead(ctx, model.BeadId(args[0]), model.WorkerId(args[1]))

	case "release-bead":
		if len(args) != 1 {
			return fmt.Errorf("release-bead BEAD_ID")
		}
		return sched.ReleaseBead(ctx, model.BeadId(args[0]))

	case "complete-bead":
		if len(args) != 1 {
			return fmt.Errorf("complete-bead BEAD_ID")
		}
		return sched.OnBeadCompleted(ctx, model.BeadId(args[0]))

	case "ready-beads":
		var ready []model.BeadId
		var err error
		if len(args) == 1 {
			ready, err = sched.GetWorkflowReadyBeads(ctx, model.WorkflowId(args[0]))
		} else {
			ready, err = sched.GetAllReadyBeads(ctx)
		}
		if err != nil {
			return err
		}
		for _, id := range ready {
			fmt.Println(id)
		}
		return nil

	case "status":
		if len(args) != 1 {
			return fmt.Errorf("status WORKFLOW_ID")
		}
		status, err := sched.GetWorkflowStatus(ctx, model.WorkflowId(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("total=%d completed=%d ready=%d complete=%t\n", status.Total, status.Completed, status.Ready, status.IsComplete)
		return nil

	case "stats":
		stats, err := sched.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("workflows=%d pending_beads=%d ready_beads=%d assignments=%d\n", stats.Workflows, stats.PendingBeads, stats.ReadyBeads, stats.Assignments)
		return nil

	case "shutdown":
		return sched.Shutdown(ctx)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseBeadList(s string) []model.BeadId {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]model.BeadId, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, model.BeadId(p))
		}
	}
	return ids
}

func parseRelation(s string) (model.Relation, error) {
	switch s {
	case "depends_on":
		return model.DependsOn, nil
	case "blocks":
		return model.Blocks, nil
	default:
		return "", fmt.Errorf("relation must be depends_on or blocks, got %q", s)
	}
}
