// Package dispatch implements the tool dispatcher: it decides, for each
// tool call the model makes, whether to run it in the foreground (the FSM
// waits for the result before continuing), in the background (the FSM
// continues immediately and the call is tracked in the task registry for
// later polling via task_status/task_wait), or as a timed invocation (runs
// in the background but is automatically cancelled after a deadline).
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/observability"
	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/pkg/models"
)

// Config controls which tools run in which invocation mode. Patterns are
// matched with the same glob-style rules the registry uses for tool-name
// matching ("mcp:*", a ".*" prefix wildcard, or an exact name).
type Config struct {
	// BackgroundTools lists tool name patterns that should be dispatched in
	// background mode: the FSM is handed a pending task id immediately and
	// moves on, rather than blocking on tool_result.
	BackgroundTools []string

	// TimedTools lists tool name patterns that run in the background but
	// are force-cancelled after TimedToolDeadline if still running.
	TimedTools []string

	// TimedToolDeadline bounds how long a timed tool may run before being
	// cancelled. Defaults to 5 minutes if zero.
	TimedToolDeadline time.Duration

	// ForegroundExec configures the per-call timeout, retry attempts, and
	// backoff applied to foreground tool calls. Zero value falls back to
	// agent.DefaultToolExecConfig().
	ForegroundExec agent.ToolExecConfig
}

func (c Config) deadline() time.Duration {
	if c.TimedToolDeadline <= 0 {
		return 5 * time.Minute
	}
	return c.TimedToolDeadline
}

// Dispatcher executes tool calls on behalf of the FSM's effect executor,
// routing each call through the registry and, for background/timed tools,
// registering it with the task store instead of blocking.
type Dispatcher struct {
	registry    *agent.ToolRegistry
	tasks       tasks.Store
	config      Config
	executor    *agent.ToolExecutor
	onLifecycle agent.EventCallback
	metrics     *observability.Metrics
}

// New creates a dispatcher over the given tool registry and task store.
func New(registry *agent.ToolRegistry, taskStore tasks.Store, config Config) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		tasks:    taskStore,
		config:   config,
		executor: agent.NewToolExecutor(registry, config.ForegroundExec),
	}
}

// SetLifecycleCallback installs a callback invoked for every foreground
// tool call's start/retry/completion. Only one callback is supported; the
// effect executor in internal/runtime is the sole caller in this module.
func (d *Dispatcher) SetLifecycleCallback(cb agent.EventCallback) {
	d.onLifecycle = cb
}

// SetMetrics installs the Prometheus collectors used to instrument
// background and timed task execution. Nil disables instrumentation.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) {
	d.metrics = m
}

// Outcome is the result of dispatching a single tool call: either a
// completed result (foreground mode) or a pending task id (background or
// timed mode, to be resolved later via task_status/task_wait).
type Outcome struct {
	Result    *models.ToolResult
	TaskID    string
	Pending   bool
}

// Dispatch runs a tool call according to the configured invocation mode.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall) Outcome {
	switch {
	case matches(d.config.TimedTools, call.Name):
		return d.dispatchAsync(ctx, call, tasks.ModeTimed, d.config.deadline())
	case matches(d.config.BackgroundTools, call.Name):
		return d.dispatchAsync(ctx, call, tasks.ModeBackground, 0)
	default:
		results := d.executor.ExecuteConcurrently(ctx, []models.ToolCall{call}, d.onLifecycle)
		if len(results) == 0 {
			return Outcome{Result: &models.ToolResult{ToolCallID: call.ID, Content: "tool execution produced no result", IsError: true}}
		}
		res := results[0].Result
		res.ToolCallID = call.ID
		return Outcome{Result: &res}
	}
}

func (d *Dispatcher) dispatchAsync(ctx context.Context, call models.ToolCall, mode tasks.Mode, deadline time.Duration) Outcome {
	task := &tasks.Task{
		ID:         uuid.NewString(),
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Mode:       mode,
		Status:     tasks.StatusRunning,
		CreatedAt:  time.Now(),
		StartedAt:  time.Now(),
	}
	if err := d.tasks.Create(ctx, task); err != nil {
		return Outcome{Result: &models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("failed to register background task: %v", err), IsError: true}}
	}

	// A background task must outlive the call that dispatched it, so it runs
	// against a fresh context rather than the caller's ctx.
	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), deadline)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	if ms, ok := d.tasks.(interface {
		SetCancelFunc(id string, cancel context.CancelFunc)
	}); ok {
		ms.SetCancelFunc(task.ID, cancel)
	}

	if d.metrics != nil {
		d.metrics.ActiveBackgroundTasks.Inc()
	}

	go func() {
		defer cancel()
		if d.metrics != nil {
			defer d.metrics.ActiveBackgroundTasks.Dec()
		}
		result, err := d.registry.Execute(runCtx, call.Name, call.Input)

		finished := &tasks.Task{
			ID:         task.ID,
			ToolName:   task.ToolName,
			ToolCallID: task.ToolCallID,
			Mode:       task.Mode,
			CreatedAt:  task.CreatedAt,
			StartedAt:  task.StartedAt,
			FinishedAt: time.Now(),
		}
		switch {
		case err != nil:
			finished.Status = tasks.StatusFailed
			finished.Error = err.Error()
		case result.IsError:
			finished.Status = tasks.StatusFailed
			finished.Error = result.Content
			finished.Result = &models.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: true}
		default:
			finished.Status = tasks.StatusCompleted
			finished.Result = &models.ToolResult{ToolCallID: call.ID, Content: result.Content}
		}
		_ = d.tasks.Update(context.Background(), finished)
		if d.metrics != nil {
			d.metrics.RecordTaskOutcome(string(finished.Status))
		}
	}()

	return Outcome{TaskID: task.ID, Pending: true}
}

func matches(patterns []string, toolName string) bool {
	return agent.MatchesToolPatterns(patterns, toolName)
}
