// dispatch-agent is the FieldGrid device-side agent.
//
// It maintains the device's bidirectional stream to the hub, executes
// commands delivered over it, and queues notifications for delivery. A
// periodic heartbeat notification doubles as a liveness signal and a
// demonstration of the outbound path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/dispatch"
	"github.com/fieldgrid/dispatch-core/internal/edge"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/agent.yaml"

// heartbeatInterval is how often the agent reports liveness to the hub.
const heartbeatInterval = 60 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting dispatch agent", "version", version, "commit", commit)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)

	// The handler acknowledges every command back to the submitting client
	// connection. Real deployments replace this with device-specific
	// command execution.
	var agent *edge.Agent
	agent = edge.NewAgent(cfg.Agent, func(cmd dispatch.Command) {
		log.Info("executing command",
			"command_id", cmd.ID,
			"name", cmd.Name,
			"params", cmd.Params,
		)
		if cmd.ConnectionID != "" {
			agent.Respond(cmd.ConnectionID, fmt.Sprintf("%s: done", cmd.Name))
		}
	})
	agent.SetLogger(log)

	// Heartbeat notifications exercise the notify queue and give watchers
	// a liveness signal.
	go heartbeatLoop(ctx, agent)

	log.Info("connecting to hub", "hub", cfg.Agent.HubURL, "device_id", cfg.Agent.DeviceID)
	if err := agent.Run(ctx); err != nil {
		return fmt.Errorf("agent stream: %w", err)
	}

	log.Info("dispatch agent stopped")
	return nil
}

// heartbeatLoop queues a heartbeat notification at a fixed interval until
// the context is cancelled.
func heartbeatLoop(ctx context.Context, agent *edge.Agent) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agent.Notify("heartbeat", map[string]any{
				"queued": agent.Queue().Len(),
			})
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses the DISPATCH_AGENT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DISPATCH_AGENT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
