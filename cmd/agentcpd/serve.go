package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/broadcast"
	agentcontext "github.com/riverrun/agentcp/internal/context"
	"github.com/riverrun/agentcp/internal/dispatch"
	"github.com/riverrun/agentcp/internal/observability"
	"github.com/riverrun/agentcp/internal/providers"
	"github.com/riverrun/agentcp/internal/runtime"
	"github.com/riverrun/agentcp/internal/sqlstore"
	"github.com/riverrun/agentcp/internal/store"
	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/internal/tools/exec"
	"github.com/riverrun/agentcp/internal/tools/files"
	"github.com/riverrun/agentcp/internal/tools/sleep"
	taskstools "github.com/riverrun/agentcp/internal/tools/tasks"
	"github.com/riverrun/agentcp/internal/tools/websearch"

	agentcpconfig "github.com/riverrun/agentcp/internal/config"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent control plane in the foreground",
		Long: `serve loads configuration, constructs the model provider, tool registry,
dispatcher, store, broadcast hub, and context manager, and drives the FSM
runtime until interrupted.

It has no built-in network listener: observers attach to the broadcast hub
in-process. A deployment that needs a remote-facing gateway sits in front of
this command and subscribes to the hub from within the same process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := agentcpconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		slog.SetDefault(observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		}).Slog())
	}

	registry := agent.NewToolRegistry()
	execManager := exec.NewManager(cfg.Workspace.Path)
	registry.Register(exec.NewExecTool("exec", execManager))
	registry.Register(exec.NewProcessTool(execManager))

	filesCfg := files.Config{Workspace: cfg.Workspace.Path}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))
	registry.Register(sleep.New())

	if strings.TrimSpace(cfg.Tools.SearchAPIKey) != "" {
		registry.Register(websearch.NewWebSearchTool(&websearch.Config{
			BraveAPIKey:    cfg.Tools.SearchAPIKey,
			DefaultBackend: websearch.BackendBraveSearch,
		}))
		registry.Register(websearch.NewWebFetchTool(&websearch.FetchConfig{MaxChars: 20000}))
	}

	taskStore := tasks.NewMemoryStore()
	registry.Register(taskstools.NewStatusTool(taskStore))
	registry.Register(taskstools.NewWaitTool(taskStore, time.Second, 30*time.Second))

	dispatcher := dispatch.New(registry, taskStore, dispatch.Config{
		BackgroundTools:   cfg.Tools.Background,
		TimedTools:        cfg.Tools.Timed,
		TimedToolDeadline: cfg.Tools.TimedDeadline,
	})

	var st store.Store
	dbPath := filepath.Join(cfg.Workspace.Path, "agentcp.db")
	sqlSt, err := sqlstore.Open(dbPath)
	if err != nil {
		slog.Warn("falling back to in-memory store, session history will not survive a restart", "error", err, "path", dbPath)
		st = store.NewMemoryStore()
	} else {
		st = sqlSt
		defer sqlSt.Close()
	}

	hub := broadcast.NewHub(64)
	ctxMgr := agentcontext.NewManager(cfg.Context.Size)

	provider := providers.NewOpenAIProviderWithEndpoint(cfg.Model.APIKey, cfg.Model.Endpoint)

	vars := agentcpconfig.PromptVars{
		Port:        cfg.Server.ListenPort,
		Workspace:   cfg.Workspace.Path,
		OllamaEndpoint: cfg.Model.Endpoint,
		OllamaModel: cfg.Model.Name,
		ContextSize: cfg.Context.Size,
	}
	systemPrompt, err := agentcpconfig.LoadSystemPrompt(cfg.Prompts.SystemPromptPath, vars)
	if err != nil {
		return fmt.Errorf("load system prompt: %w", err)
	}

	metrics := observability.NewMetrics()
	eventLog := observability.NewMemoryEventStore(10000)
	recorder := observability.NewEventRecorder(eventLog, observability.NewLogger(observability.LogConfig{Level: "debug"}))

	rt, err := runtime.New(ctx, provider, registry, dispatcher, st, hub, ctxMgr, runtime.Config{
		Model:          cfg.Model.Name,
		System:         systemPrompt,
		MaxTokens:      cfg.Model.MaxTokens,
		InitialMode:    agent.ModeConversation,
		InitialDelayMS: 60000,
		Metrics:        metrics,
		EventRecorder:  recorder,
	})
	if err != nil {
		return fmt.Errorf("construct runtime: %w", err)
	}

	observer := hub.Subscribe()
	defer observer.Close()
	go logBroadcastEvents(observer)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("agentcpd starting", "model", cfg.Model.Name, "endpoint", cfg.Model.Endpoint, "workspace", cfg.Workspace.Path)
	rt.Run(runCtx)
	slog.Info("agentcpd stopped")
	return nil
}

func logBroadcastEvents(observer *broadcast.Observer) {
	for ev := range observer.Events() {
		switch ev.Type {
		case broadcast.EventToken:
			fmt.Fprint(os.Stdout, ev.Token)
		case broadcast.EventMessage:
			if ev.Message != nil {
				fmt.Fprintf(os.Stdout, "\n[%s] %s\n", ev.Message.Role, ev.Message.Content)
			}
		case broadcast.EventFSMState:
			slog.Debug("fsm state", "state", ev.FSMState)
		case broadcast.EventNotable:
			if ev.Notable != nil {
				slog.Info("notable", "kind", ev.Notable.Kind, "content", ev.Notable.Content)
			}
		}
	}
}
