// Package runtime wires the agent finite-state machine to its collaborators:
// the model provider, the tool dispatcher, the store, the broadcast fabric,
// and the context manager. Where internal/agent's Transition is a pure
// function, Runtime is the impure shell around it -- it owns the event
// queue, runs effects, and is the one place in the module that performs I/O
// on the FSM's behalf.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/broadcast"
	agentcontext "github.com/riverrun/agentcp/internal/context"
	"github.com/riverrun/agentcp/internal/dispatch"
	"github.com/riverrun/agentcp/internal/observability"
	"github.com/riverrun/agentcp/internal/store"
	"github.com/riverrun/agentcp/pkg/models"
)

// Config carries the knobs a deployment sets once at startup. Everything
// else (mode, delay) is runtime-mutable state reached through Runtime's
// methods.
type Config struct {
	Model     string
	System    string
	MaxTokens int

	InitialMode    agent.Mode
	InitialDelayMS int

	// EventQueueSize bounds how many unprocessed events Submit will buffer
	// before blocking the caller.
	EventQueueSize int

	// Metrics receives Prometheus instrumentation for tool execution,
	// context pressure, and FSM activity. Nil disables instrumentation.
	Metrics *observability.Metrics

	// EventRecorder captures a replayable timeline of tool calls for this
	// runtime's session. Nil disables recording.
	EventRecorder *observability.EventRecorder
}

func (c Config) delayMS() int {
	if c.InitialDelayMS <= 0 {
		return 60000
	}
	return c.InitialDelayMS
}

func (c Config) mode() agent.Mode {
	if c.InitialMode == "" {
		return agent.ModeConversation
	}
	return c.InitialMode
}

func (c Config) queueSize() int {
	if c.EventQueueSize <= 0 {
		return 64
	}
	return c.EventQueueSize
}

// Runtime drives the FSM for a single session: it applies incoming events to
// agent.Transition and carries out the resulting effects against its
// collaborators.
type Runtime struct {
	provider   agent.LLMProvider
	registry   *agent.ToolRegistry
	dispatcher *dispatch.Dispatcher
	store      store.Store
	hub        *broadcast.Hub
	ctxMgr     *agentcontext.Manager
	config     Config
	metrics    *observability.Metrics
	recorder   *observability.EventRecorder

	mu      sync.Mutex
	state   agent.State
	fsmCtx  agent.Context
	timers  map[string]*time.Timer

	pendingInput *agent.PendingInputFlag

	events chan agent.Event
	done   chan struct{}
}

// pendingInputGrace is how long a user/external message keeps the interrupt
// probe reporting true for tools already running when it arrives.
const pendingInputGrace = 100 * time.Millisecond

// New creates a Runtime and opens (or resumes) the session it will drive.
func New(ctx context.Context, provider agent.LLMProvider, registry *agent.ToolRegistry, dispatcher *dispatch.Dispatcher, st store.Store, hub *broadcast.Hub, ctxMgr *agentcontext.Manager, config Config) (*Runtime, error) {
	session, err := st.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if session == nil {
		session, err = st.CreateSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	r := &Runtime{
		provider:   provider,
		registry:   registry,
		dispatcher: dispatcher,
		store:      st,
		hub:        hub,
		ctxMgr:     ctxMgr,
		config:     config,
		metrics:    config.Metrics,
		recorder:   config.EventRecorder,
		state:      agent.State{Kind: agent.StateIdle},
		fsmCtx: agent.Context{
			SessionID: session.ID,
			Mode:      config.mode(),
			DelayMS:   config.delayMS(),
		},
		timers:       make(map[string]*time.Timer),
		pendingInput: agent.NewPendingInputFlag(),
		events:       make(chan agent.Event, config.queueSize()),
		done:         make(chan struct{}),
	}

	if dispatcher != nil {
		dispatcher.SetLifecycleCallback(func(ev agent.ToolLifecycleEvent) {
			hub.Publish(broadcast.Event{
				Type:      broadcast.EventToolLifecycle,
				SessionID: session.ID,
				Time:      time.Now(),
				ToolLifecycle: &broadcast.ToolLifecycleInfo{
					Kind:       string(ev.Kind),
					ToolName:   ev.ToolName,
					ToolCallID: ev.ToolCallID,
					Attempt:    ev.Attempt,
					Retrying:   ev.Retrying,
					DurationMS: ev.DurationMS,
				},
			})

			if config.Metrics == nil {
				return
			}
			switch ev.Kind {
			case agent.ToolLifecycleCompleted:
				config.Metrics.RecordToolExecution(ev.ToolName, "success", float64(ev.DurationMS)/1000)
			case agent.ToolLifecycleFailed:
				if ev.Retrying {
					config.Metrics.RecordToolRetry(ev.ToolName)
				} else {
					config.Metrics.RecordToolExecution(ev.ToolName, "error", float64(ev.DurationMS)/1000)
				}
			case agent.ToolLifecycleTimeout:
				config.Metrics.RecordToolExecution(ev.ToolName, "timeout", float64(ev.DurationMS)/1000)
			}
		})
		dispatcher.SetMetrics(config.Metrics)
	}

	return r, nil
}

// Run processes events until ctx is cancelled. It is meant to be run in its
// own goroutine; callers drive the runtime through Submit, SetMode,
// SetDelay, and Step.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.apply(ctx, ev)
		}
	}
}

// Done reports whether Run has returned.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Submit enqueues an event for processing. It blocks if the queue is full,
// applying backpressure to producers (the model stream pump, the dispatcher,
// the autonomous tick scheduler) rather than dropping agent-turn events --
// unlike the broadcast fabric, where dropping observer-facing notifications
// is acceptable, losing a turn event would desynchronize the FSM.
func (r *Runtime) Submit(ev agent.Event) {
	if ev.Kind == agent.EventUserMessage || ev.Kind == agent.EventExternalMessage {
		r.pendingInput.SetPending(pendingInputGrace)
	}
	r.events <- ev
}

// SetMode changes the operating mode (conversation/autonomous/step).
func (r *Runtime) SetMode(mode agent.Mode) {
	r.Submit(agent.Event{Kind: agent.EventModeChanged, NewMode: mode})
}

// SetDelay changes the autonomous tick delay in milliseconds.
func (r *Runtime) SetDelay(ms int) {
	r.Submit(agent.Event{Kind: agent.EventDelayChanged, DelayMS: ms})
}

// Step advances a single turn while in step mode.
func (r *Runtime) Step() {
	r.Submit(agent.Event{Kind: agent.EventStep})
}

// apply runs one Transition and carries out its effects.
func (r *Runtime) apply(ctx context.Context, ev agent.Event) {
	r.mu.Lock()
	state, fsmCtx, effects := agent.Transition(r.state, r.fsmCtx, ev)
	r.state = state
	r.fsmCtx = fsmCtx
	sessionID := fsmCtx.SessionID
	r.mu.Unlock()

	for _, effect := range effects {
		r.runEffect(ctx, sessionID, state, effect)
	}
}

func (r *Runtime) runEffect(ctx context.Context, sessionID string, state agent.State, effect agent.Effect) {
	switch effect.Kind {
	case agent.EffectStartStream:
		go r.pumpStream(ctx, sessionID, effect.StreamID)

	case agent.EffectEmitToken:
		r.hub.Publish(broadcast.Event{Type: broadcast.EventToken, SessionID: sessionID, Token: effect.Token, Time: time.Now()})

	case agent.EffectEmitReasoning:
		r.hub.Publish(broadcast.Event{Type: broadcast.EventReasoning, SessionID: sessionID, Reasoning: effect.Reasoning, Time: time.Now()})

	case agent.EffectExecuteTool:
		go r.runTool(ctx, effect.ToolCall)

	case agent.EffectSaveMessage:
		r.saveMessage(ctx, sessionID, effect.Message)

	case agent.EffectBroadcastMessage:
		r.hub.Publish(broadcast.Event{Type: broadcast.EventMessage, SessionID: sessionID, Message: effect.Message, Time: time.Now()})

	case agent.EffectCheckContextPressure, agent.EffectUpdateContextPressure:
		r.checkContextPressure(ctx, sessionID)

	case agent.EffectScheduleDelay:
		r.scheduleDelay(sessionID, effect.DelayMS)

	case agent.EffectWaitForStep:
		// No-op: step mode waits for an explicit Step() call from the operator.

	case agent.EffectLogError:
		turnErr := agent.NewTurnError(sessionID, state, effect.Err)
		slog.Error("agent turn error", "session_id", sessionID, "phase", turnErr.Phase, "error", turnErr)
		r.addNotable(ctx, sessionID, models.NotableKindError, turnErr.Error())

	case agent.EffectBroadcastFSMState:
		r.hub.Publish(broadcast.Event{Type: broadcast.EventFSMState, SessionID: sessionID, FSMState: effect.FSMState, Time: time.Now()})
		if r.metrics != nil {
			r.metrics.RecordFSMTransition(effect.FSMState)
		}
	}
}

func (r *Runtime) saveMessage(ctx context.Context, sessionID string, msg *models.Message) {
	if msg == nil {
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if err := r.store.AppendMessage(ctx, sessionID, msg); err != nil {
		slog.Error("append message failed", "session_id", sessionID, "error", err)
	}
}

func (r *Runtime) addNotable(ctx context.Context, sessionID string, kind models.NotableKind, content string) {
	if content == "" {
		return
	}
	notable := &models.Notable{SessionID: sessionID, Kind: kind, Content: content}
	if err := r.store.AddNotable(ctx, notable); err != nil {
		slog.Error("add notable failed", "session_id", sessionID, "error", err)
		return
	}
	r.hub.Publish(broadcast.Event{Type: broadcast.EventNotable, SessionID: sessionID, Notable: notable, Time: time.Now()})
}
