package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/broadcast"
	agentcontext "github.com/riverrun/agentcp/internal/context"
	"github.com/riverrun/agentcp/internal/dispatch"
	"github.com/riverrun/agentcp/internal/store"
	"github.com/riverrun/agentcp/pkg/models"
)

// scriptedProvider replays a fixed sequence of chunks for every completion
// request, regardless of what's asked -- enough to drive the runtime through
// a full turn without a real model.
type scriptedProvider struct {
	chunks []*agent.CompletionChunk
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}
func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model    { return nil }
func (p *scriptedProvider) SupportsTools() bool      { return true }

func newTestRuntime(t *testing.T, provider agent.LLMProvider, registry *agent.ToolRegistry) (*Runtime, *store.MemoryStore, *broadcast.Hub) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := broadcast.NewHub(64)
	ctxMgr := agentcontext.NewManager(1000)
	taskStore := st.Tasks()
	d := dispatch.New(registry, taskStore, dispatch.Config{})

	rt, err := New(context.Background(), provider, registry, d, st, hub, ctxMgr, Config{Model: "test-model"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt, st, hub
}

func waitForIdle(t *testing.T, rt *Runtime) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rt.mu.Lock()
		kind := rt.state.Kind
		rt.mu.Unlock()
		if kind == agent.StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runtime did not return to idle in time")
}

func TestRuntimeSimpleTurnEndsIdleAndPersistsMessages(t *testing.T) {
	provider := &scriptedProvider{chunks: []*agent.CompletionChunk{
		{Text: "hi there"},
		{Done: true},
	}}
	registry := agent.NewToolRegistry()
	rt, st, _ := newTestRuntime(t, provider, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	rt.Submit(agent.Event{Kind: agent.EventUserMessage, Text: "hello"})
	waitForIdle(t, rt)

	history, err := st.GetHistory(context.Background(), rt.fsmCtx.SessionID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", history)
	}
	if history[1].Content != "hi there" {
		t.Fatalf("unexpected assistant content: %q", history[1].Content)
	}
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes input" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "echoed"}, nil
}

func TestRuntimeExecutesToolCallsThenContinues(t *testing.T) {
	firstTurn := []*agent.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	secondTurn := []*agent.CompletionChunk{
		{Text: "done"},
		{Done: true},
	}
	provider := &sequencedProvider{turns: [][]*agent.CompletionChunk{firstTurn, secondTurn}}

	registry := agent.NewToolRegistry()
	registry.Register(echoTool{})
	rt, st, _ := newTestRuntime(t, provider, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	rt.Submit(agent.Event{Kind: agent.EventUserMessage, Text: "run the tool"})
	waitForIdle(t, rt)

	history, err := st.GetHistory(context.Background(), rt.fsmCtx.SessionID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}

	var sawToolResult, sawFinalAssistant bool
	for _, msg := range history {
		if msg.Role == models.RoleTool {
			for _, res := range msg.ToolResults {
				if res.Content == "echoed" {
					sawToolResult = true
				}
			}
		}
		if msg.Role == models.RoleAssistant && msg.Content == "done" {
			sawFinalAssistant = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a tool result message, got %+v", history)
	}
	if !sawFinalAssistant {
		t.Fatalf("expected the follow-up assistant message, got %+v", history)
	}
}

// sequencedProvider returns a different scripted turn on each successive
// call to Complete, looping back to the last turn once exhausted.
type sequencedProvider struct {
	turns [][]*agent.CompletionChunk
	calls int
}

func (p *sequencedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	idx := p.calls
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.calls++
	turn := p.turns[idx]
	out := make(chan *agent.CompletionChunk, len(turn))
	for _, c := range turn {
		out <- c
	}
	close(out)
	return out, nil
}
func (p *sequencedProvider) Name() string          { return "sequenced" }
func (p *sequencedProvider) Models() []agent.Model { return nil }
func (p *sequencedProvider) SupportsTools() bool   { return true }

func TestRuntimeModeChangeMovesToWaitingDelay(t *testing.T) {
	provider := &scriptedProvider{chunks: []*agent.CompletionChunk{{Text: "tick"}, {Done: true}}}
	registry := agent.NewToolRegistry()
	rt, _, _ := newTestRuntime(t, provider, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	rt.SetMode(agent.ModeAutonomous)
	rt.SetDelay(20)
	rt.Submit(agent.Event{Kind: agent.EventAutonomousTick})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rt.mu.Lock()
		kind := rt.state.Kind
		rt.mu.Unlock()
		if kind == agent.StateWaitingDelay {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected runtime to reach waiting_delay after an autonomous turn")
}
