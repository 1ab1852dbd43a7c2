// Command agentcpd runs the agent control plane: a single FSM-driven turn
// loop with tool dispatch, context-pressure management, and a broadcast
// fabric for observers. It has no built-in transport -- serve wires the
// runtime up and blocks, printing turn events to stdout, so an operator can
// front it with whatever gateway (HTTP, a chat platform adapter) their
// deployment needs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/riverrun/agentcp/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("AGENTCP_LOG_LEVEL"),
		Format: "text",
		Output: os.Stderr,
	})
	slog.SetDefault(logger.Slog())

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentcpd",
		Short: "agentcpd runs the agent control plane",
		Long: `agentcpd drives a single long-running LLM agent turn loop: a pure
finite-state machine reacting to user messages, model stream events, tool
results, and autonomous ticks, with context-pressure compaction and a
background-task registry behind it.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildConfigCmd())
	return root
}
