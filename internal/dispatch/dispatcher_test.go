package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/pkg/models"
)

// fakeTool is a tiny agent.Tool used to drive the dispatcher without pulling
// in any real tool implementation.
type fakeTool struct {
	name   string
	delay  time.Duration
	result string
	fail   bool
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "test tool" }
func (f *fakeTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &agent.ToolResult{Content: ctx.Err().Error(), IsError: true}, nil
		}
	}
	if f.fail {
		return &agent.ToolResult{Content: "boom", IsError: true}, nil
	}
	return &agent.ToolResult{Content: f.result}, nil
}

func newDispatcher(cfg Config, tools ...*fakeTool) (*Dispatcher, *tasks.MemoryStore) {
	registry := agent.NewToolRegistry()
	for _, t := range tools {
		registry.Register(t)
	}
	store := tasks.NewMemoryStore()
	return New(registry, store, cfg), store
}

func waitForStatus(t *testing.T, store *tasks.MemoryStore, id string, want tasks.Status) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", id, want)
	return nil
}

func TestDispatchForegroundRunsSynchronously(t *testing.T) {
	d, _ := newDispatcher(Config{}, &fakeTool{name: "calc", result: "4"})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-1", Name: "calc"})

	if outcome.Pending {
		t.Fatalf("foreground dispatch should not be pending")
	}
	if outcome.Result == nil || outcome.Result.Content != "4" || outcome.Result.IsError {
		t.Fatalf("unexpected result: %+v", outcome.Result)
	}
	if outcome.Result.ToolCallID != "call-1" {
		t.Fatalf("result not tagged with the originating call id: %+v", outcome.Result)
	}
}

func TestDispatchForegroundUnknownTool(t *testing.T) {
	d, _ := newDispatcher(Config{})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-1", Name: "missing"})

	if outcome.Pending {
		t.Fatalf("unknown tool should resolve immediately with an error result")
	}
	if outcome.Result == nil || !outcome.Result.IsError {
		t.Fatalf("expected an error result, got %+v", outcome.Result)
	}
}

func TestDispatchBackgroundTracksTask(t *testing.T) {
	cfg := Config{BackgroundTools: []string{"slow_task"}}
	d, store := newDispatcher(cfg, &fakeTool{name: "slow_task", delay: 20 * time.Millisecond, result: "done"})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-2", Name: "slow_task"})

	if !outcome.Pending || outcome.TaskID == "" {
		t.Fatalf("background dispatch should return a pending task id, got %+v", outcome)
	}

	task := waitForStatus(t, store, outcome.TaskID, tasks.StatusCompleted)
	if task.Result == nil || task.Result.Content != "done" {
		t.Fatalf("unexpected finished task: %+v", task)
	}
	if task.Mode != tasks.ModeBackground {
		t.Fatalf("expected mode background, got %s", task.Mode)
	}
}

func TestDispatchBackgroundToolFailure(t *testing.T) {
	cfg := Config{BackgroundTools: []string{"flaky"}}
	d, store := newDispatcher(cfg, &fakeTool{name: "flaky", fail: true})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-3", Name: "flaky"})
	if !outcome.Pending {
		t.Fatalf("expected pending outcome")
	}

	task := waitForStatus(t, store, outcome.TaskID, tasks.StatusFailed)
	if task.Error == "" {
		t.Fatalf("expected a failure reason, got %+v", task)
	}
}

func TestDispatchTimedToolCancelledAfterDeadline(t *testing.T) {
	cfg := Config{TimedTools: []string{"wedged"}, TimedToolDeadline: 10 * time.Millisecond}
	d, store := newDispatcher(cfg, &fakeTool{name: "wedged", delay: time.Hour})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-4", Name: "wedged"})
	if !outcome.Pending {
		t.Fatalf("expected pending outcome")
	}

	task := waitForStatus(t, store, outcome.TaskID, tasks.StatusFailed)
	if task.Mode != tasks.ModeTimed {
		t.Fatalf("expected mode timed, got %s", task.Mode)
	}
}

func TestDispatchPatternPrecedenceTimedOverBackground(t *testing.T) {
	cfg := Config{
		BackgroundTools:   []string{"dual"},
		TimedTools:        []string{"dual"},
		TimedToolDeadline: time.Hour,
	}
	d, store := newDispatcher(cfg, &fakeTool{name: "dual", result: "ok"})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-5", Name: "dual"})
	task := waitForStatus(t, store, outcome.TaskID, tasks.StatusCompleted)
	if task.Mode != tasks.ModeTimed {
		t.Fatalf("a tool listed in both patterns should run timed, got %s", task.Mode)
	}
}

func TestDispatchMCPWildcardPattern(t *testing.T) {
	cfg := Config{BackgroundTools: []string{"mcp:*"}}
	d, store := newDispatcher(cfg, &fakeTool{name: "mcp:github.search", result: "found"})

	outcome := d.Dispatch(context.Background(), models.ToolCall{ID: "call-6", Name: "mcp:github.search"})
	if !outcome.Pending {
		t.Fatalf("mcp-namespaced tool should match the mcp:* pattern")
	}
	waitForStatus(t, store, outcome.TaskID, tasks.StatusCompleted)
}

func TestDispatchDefaultDeadlineAppliedWhenUnset(t *testing.T) {
	cfg := Config{}
	if got := cfg.deadline(); got != 5*time.Minute {
		t.Fatalf("expected default deadline of 5m, got %s", got)
	}
	cfg.TimedToolDeadline = 30 * time.Second
	if got := cfg.deadline(); got != 30*time.Second {
		t.Fatalf("expected configured deadline to be honored, got %s", got)
	}
}
