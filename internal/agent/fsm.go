// Package agent implements the agent control plane: a pure finite-state
// machine driving a long-running LLM agent turn loop, plus the
// collaborators (tool dispatcher, context manager, model provider) an
// effect executor wires around it.
//
// The FSM itself (this file) holds no I/O: Transition is a pure function
// from (State, Context, Event) to (State, Context, []Effect). Every side
// effect -- calling the model, running a tool, touching the store,
// broadcasting to observers -- is represented as data and carried out by
// the runtime package's effect executor. This makes the control flow
// exhaustively testable without a model, a store, or a clock.
package agent

import "github.com/riverrun/agentcp/pkg/models"

// StateKind discriminates the FSM's states.
type StateKind string

const (
	StateIdle           StateKind = "idle"
	StateStreaming       StateKind = "streaming"
	StateExecutingTools StateKind = "executing_tools"
	StateWaitingDelay   StateKind = "waiting_delay"
	StateWaitingStep    StateKind = "waiting_step"
)

// State is the FSM's current state. Only the fields relevant to Kind are
// meaningful; the zero value is StateIdle.
type State struct {
	Kind StateKind

	// StreamID identifies the in-flight model stream (StateStreaming).
	StreamID string

	// PendingCalls and Cursor track tool execution (StateExecutingTools).
	PendingCalls []models.ToolCall
	Cursor       int

	// DelayMS is the remaining autonomous tick delay (StateWaitingDelay).
	DelayMS int
}

// Mode is the agent's top-level operating mode, toggled by mode_changed
// events and read by the transition function to decide what happens at
// turn boundaries.
type Mode string

const (
	ModeConversation Mode = "conversation"
	ModeAutonomous   Mode = "autonomous"
	ModeStep         Mode = "step" // single-step debugging: waits for an explicit "step" event between turns
)

// DelayInfinite marks a delay_changed value that means "wait for an explicit
// step rather than a timer". It only has meaning while in StateWaitingStep;
// see the EventDelayChanged handling in Transition.
const DelayInfinite = -1

// Context is the FSM's carried-forward context: everything that survives
// across transitions but isn't encoded in State.
type Context struct {
	SessionID string
	Mode      Mode
	DelayMS   int

	// PendingToolResults accumulates results for the tool calls in
	// State.PendingCalls as they complete, in call order.
	PendingToolResults []models.ToolResult

	// QueuedUserMessages holds user/external input that arrived while the
	// FSM was busy (streaming or executing tools). It is drained, oldest
	// first, at the next post-turn routing decision or autonomous tick.
	QueuedUserMessages []string

	// ConsecutiveErrors counts stream_error events since the last
	// successful stream_end. It drives the retry-then-pause ladder in
	// transitionStreaming and resets to 0 on any successful completion.
	ConsecutiveErrors int
}

// maxConsecutiveErrors is the number of stream_error retries attempted
// before the FSM gives up on the turn and returns to idle.
const maxConsecutiveErrors = 3

// EventKind discriminates the events the FSM reacts to.
type EventKind string

const (
	EventUserMessage     EventKind = "user_message"
	EventExternalMessage EventKind = "external_message"
	EventAutonomousTick  EventKind = "autonomous_tick"
	EventStreamStart     EventKind = "stream_start"
	EventStreamChunk     EventKind = "stream_chunk"
	EventStreamEnd       EventKind = "stream_end"
	EventStreamError     EventKind = "stream_error"
	EventToolResult      EventKind = "tool_result"
	EventModeChanged     EventKind = "mode_changed"
	EventDelayChanged    EventKind = "delay_changed"
	EventStep            EventKind = "step"
	EventDelayElapsed    EventKind = "delay_elapsed"
)

// ChunkKind discriminates the payload of a stream_chunk event.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
)

// Event is the single envelope type fed into Transition.
type Event struct {
	Kind EventKind

	// user_message / external_message / autonomous_tick
	Text string

	// external_message only: the injecting source, e.g. "cron". Content
	// delivered to the model is wrapped as "[External message from
	// <Source>]\n<Text>"; the raw Text is what gets queued if the FSM is
	// busy.
	Source string

	// stream_start / stream_chunk / stream_end / stream_error
	StreamID    string
	ChunkKind   ChunkKind
	ChunkText   string
	FinalMessage *models.Message // populated on stream_end
	Err          error           // populated on stream_error

	// tool_result
	ToolCallID string
	Result     models.ToolResult

	// mode_changed
	NewMode Mode

	// delay_changed / delay_elapsed / waiting_delay bookkeeping
	DelayMS int
}

// EffectKind discriminates the side effects Transition asks the executor to
// carry out.
type EffectKind string

const (
	EffectStartStream           EffectKind = "start_stream"
	EffectEmitToken             EffectKind = "emit_token"
	EffectEmitReasoning         EffectKind = "emit_reasoning"
	EffectExecuteTool           EffectKind = "execute_tool"
	EffectSaveMessage           EffectKind = "save_message"
	EffectBroadcastMessage      EffectKind = "broadcast_message"
	EffectUpdateContextPressure EffectKind = "update_context_pressure"
	EffectScheduleDelay         EffectKind = "schedule_delay"
	EffectWaitForStep           EffectKind = "wait_for_step"
	EffectCheckContextPressure  EffectKind = "check_context_pressure"
	EffectLogError              EffectKind = "log_error"
	EffectBroadcastFSMState     EffectKind = "broadcast_fsm_state"
)

// Effect is a single side effect the transition function wants carried out.
// Only the fields relevant to Kind are populated.
type Effect struct {
	Kind EffectKind

	StreamID string

	Token     string
	Reasoning string

	Message *models.Message

	ToolCall models.ToolCall

	DelayMS int

	Err error

	FSMState string
}

// Transition is the FSM's pure core: given the current state, context, and
// an incoming event, it returns the next state, next context, and the
// effects the executor must carry out. Transition never blocks and never
// performs I/O.
func Transition(state State, ctx Context, ev Event) (State, Context, []Effect) {
	// A mode or delay change is accepted in any state. Most of the time it
	// just updates context, but two specific corners reroute the FSM:
	// dropping into conversation mode from a waiting state goes idle, and
	// switching into autonomous mode while already idle kicks off a tick.
	switch ev.Kind {
	case EventModeChanged:
		wasWaiting := state.Kind == StateWaitingDelay || state.Kind == StateWaitingStep
		wasIdle := state.Kind == StateIdle
		ctx.Mode = ev.NewMode
		effects := []Effect{broadcastState(ctx)}

		if ev.NewMode == ModeConversation && wasWaiting {
			next := State{Kind: StateIdle}
			return next, ctx, append(effects, fsmStateEffect(next))
		}
		if ev.NewMode == ModeAutonomous && wasIdle {
			next, nextCtx, tickEffects := transitionIdle(State{Kind: StateIdle}, ctx, Event{Kind: EventAutonomousTick})
			return next, nextCtx, append(effects, tickEffects...)
		}
		return state, ctx, effects

	case EventDelayChanged:
		ctx.DelayMS = ev.DelayMS
		effects := []Effect{broadcastState(ctx)}
		if state.Kind == StateWaitingStep && ev.DelayMS != DelayInfinite {
			next := State{Kind: StateWaitingDelay, DelayMS: ev.DelayMS}
			effects = append(effects, Effect{Kind: EffectScheduleDelay, DelayMS: ev.DelayMS}, fsmStateEffect(next))
			return next, ctx, effects
		}
		return state, ctx, effects
	}

	switch state.Kind {
	case StateIdle:
		return transitionIdle(state, ctx, ev)
	case StateStreaming:
		return transitionStreaming(state, ctx, ev)
	case StateExecutingTools:
		return transitionExecutingTools(state, ctx, ev)
	case StateWaitingDelay:
		return transitionWaitingDelay(state, ctx, ev)
	case StateWaitingStep:
		return transitionWaitingStep(state, ctx, ev)
	default:
		return state, ctx, nil
	}
}

func transitionIdle(state State, ctx Context, ev Event) (State, Context, []Effect) {
	switch ev.Kind {
	case EventUserMessage, EventExternalMessage:
		return startTurn(ctx, messageText(ev))

	case EventAutonomousTick:
		if ctx.Mode != ModeAutonomous {
			return state, ctx, nil
		}
		if len(ctx.QueuedUserMessages) > 0 {
			return dequeueAndStartTurn(ctx)
		}
		streamID := newStreamID()
		next := State{Kind: StateStreaming, StreamID: streamID}
		effects := []Effect{
			{Kind: EffectCheckContextPressure},
			{Kind: EffectStartStream, StreamID: streamID},
			fsmStateEffect(next),
		}
		return next, ctx, effects

	default:
		return state, ctx, nil
	}
}

// startTurn appends a user-role message and kicks off a model stream for it.
// It is the common tail of idle + user_message/external_message and of
// draining a queued message at a post-turn routing decision.
func startTurn(ctx Context, text string) (State, Context, []Effect) {
	msg := &models.Message{SessionID: ctx.SessionID, Role: models.RoleUser, Content: text}
	streamID := newStreamID()
	next := State{Kind: StateStreaming, StreamID: streamID}
	effects := []Effect{
		{Kind: EffectSaveMessage, Message: msg},
		{Kind: EffectBroadcastMessage, Message: msg},
		{Kind: EffectCheckContextPressure},
		{Kind: EffectStartStream, StreamID: streamID},
		fsmStateEffect(next),
	}
	return next, ctx, effects
}

// dequeueAndStartTurn pops the oldest queued message and starts a turn for
// it, the way the FSM catches up on input that arrived while busy.
func dequeueAndStartTurn(ctx Context) (State, Context, []Effect) {
	text := ctx.QueuedUserMessages[0]
	ctx.QueuedUserMessages = append([]string(nil), ctx.QueuedUserMessages[1:]...)
	return startTurn(ctx, text)
}

// enqueueUserMessage records input that arrived while the FSM was busy, to
// be processed at the next post-turn routing decision or autonomous tick
// rather than dropped or interleaved mid-turn.
func enqueueUserMessage(state State, ctx Context, ev Event) (State, Context, []Effect) {
	ctx.QueuedUserMessages = append(ctx.QueuedUserMessages, messageText(ev))
	return state, ctx, nil
}

// messageText formats the content a user_message or external_message event
// contributes to the working window, wrapping external input with its
// source the way the model needs to distinguish it from direct input.
func messageText(ev Event) string {
	if ev.Kind == EventExternalMessage {
		return "[External message from " + ev.Source + "]\n" + ev.Text
	}
	return ev.Text
}

func transitionStreaming(state State, ctx Context, ev Event) (State, Context, []Effect) {
	if ev.StreamID != "" && ev.StreamID != state.StreamID {
		// Stale event from a stream we've already moved past; ignore.
		return state, ctx, nil
	}

	switch ev.Kind {
	case EventStreamChunk:
		if ev.ChunkKind == ChunkReasoning {
			return state, ctx, []Effect{{Kind: EffectEmitReasoning, Reasoning: ev.ChunkText}}
		}
		return state, ctx, []Effect{{Kind: EffectEmitToken, Token: ev.ChunkText}}

	case EventStreamEnd:
		ctx.ConsecutiveErrors = 0
		msg := ev.FinalMessage
		effects := []Effect{}
		if msg != nil {
			effects = append(effects,
				Effect{Kind: EffectSaveMessage, Message: msg},
				Effect{Kind: EffectBroadcastMessage, Message: msg},
			)
		}
		effects = append(effects, Effect{Kind: EffectCheckContextPressure})

		if msg != nil && len(msg.ToolCalls) > 0 {
			next := State{Kind: StateExecutingTools, PendingCalls: msg.ToolCalls, Cursor: 0}
			ctx.PendingToolResults = nil
			effects = append(effects,
				Effect{Kind: EffectExecuteTool, ToolCall: msg.ToolCalls[0]},
				fsmStateEffect(next),
			)
			return next, ctx, effects
		}

		if len(ctx.QueuedUserMessages) > 0 {
			next, nextCtx, turnEffects := dequeueAndStartTurn(ctx)
			return next, nextCtx, append(effects, turnEffects...)
		}

		next, turnEffects := endOfTurn(ctx)
		effects = append(effects, turnEffects...)
		return next, ctx, effects

	case EventStreamError:
		ctx.ConsecutiveErrors++
		errMsg := &models.Message{SessionID: ctx.SessionID, Role: models.RoleSystem, Content: "stream error: " + errString(ev.Err)}
		effects := []Effect{
			{Kind: EffectLogError, Err: ev.Err},
			{Kind: EffectSaveMessage, Message: errMsg},
			{Kind: EffectBroadcastMessage, Message: errMsg},
		}

		if ctx.ConsecutiveErrors < maxConsecutiveErrors {
			recovery := &models.Message{
				SessionID: ctx.SessionID,
				Role:      models.RoleSystem,
				Content:   "[System: The previous response caused an error: \"" + errString(ev.Err) + "\". Please try again.]",
			}
			streamID := newStreamID()
			next := State{Kind: StateStreaming, StreamID: streamID}
			effects = append(effects,
				Effect{Kind: EffectSaveMessage, Message: recovery},
				Effect{Kind: EffectBroadcastMessage, Message: recovery},
				Effect{Kind: EffectStartStream, StreamID: streamID},
				fsmStateEffect(next),
			)
			return next, ctx, effects
		}

		// Three strikes: pause the loop and let the next external input
		// restart it, rather than retrying forever against a broken model.
		ctx.ConsecutiveErrors = 0
		pause := &models.Message{SessionID: ctx.SessionID, Role: models.RoleSystem, Content: "[System: Pausing after repeated errors.]"}
		next := State{Kind: StateIdle}
		effects = append(effects,
			Effect{Kind: EffectSaveMessage, Message: pause},
			Effect{Kind: EffectBroadcastMessage, Message: pause},
			fsmStateEffect(next),
		)
		return next, ctx, effects

	case EventUserMessage, EventExternalMessage:
		return enqueueUserMessage(state, ctx, ev)

	default:
		return state, ctx, nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func transitionExecutingTools(state State, ctx Context, ev Event) (State, Context, []Effect) {
	if ev.Kind == EventUserMessage || ev.Kind == EventExternalMessage {
		return enqueueUserMessage(state, ctx, ev)
	}
	if ev.Kind != EventToolResult {
		return state, ctx, nil
	}

	resultMsg := &models.Message{
		SessionID:   ctx.SessionID,
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{ev.Result},
	}
	effects := []Effect{
		{Kind: EffectSaveMessage, Message: resultMsg},
		{Kind: EffectBroadcastMessage, Message: resultMsg},
	}
	ctx.PendingToolResults = append(ctx.PendingToolResults, ev.Result)

	nextCursor := state.Cursor + 1
	if nextCursor < len(state.PendingCalls) {
		next := State{Kind: StateExecutingTools, PendingCalls: state.PendingCalls, Cursor: nextCursor}
		effects = append(effects, Effect{Kind: EffectExecuteTool, ToolCall: state.PendingCalls[nextCursor]})
		return next, ctx, effects
	}

	// All tool calls for this turn are done. The model needs to see the
	// results, so start a new stream rather than returning to idle.
	effects = append(effects, Effect{Kind: EffectCheckContextPressure})
	streamID := newStreamID()
	next := State{Kind: StateStreaming, StreamID: streamID}
	ctx.PendingToolResults = nil
	effects = append(effects, Effect{Kind: EffectStartStream, StreamID: streamID}, fsmStateEffect(next))
	return next, ctx, effects
}

func transitionWaitingDelay(state State, ctx Context, ev Event) (State, Context, []Effect) {
	switch ev.Kind {
	case EventDelayElapsed:
		return transitionIdle(State{Kind: StateIdle}, ctx, Event{Kind: EventAutonomousTick})

	case EventUserMessage, EventExternalMessage:
		// An incoming message interrupts the autonomous wait and is
		// processed immediately rather than queued.
		return transitionIdle(State{Kind: StateIdle}, ctx, ev)

	default:
		return state, ctx, nil
	}
}

func transitionWaitingStep(state State, ctx Context, ev Event) (State, Context, []Effect) {
	switch ev.Kind {
	case EventStep:
		return transitionIdle(State{Kind: StateIdle}, ctx, Event{Kind: EventAutonomousTick})

	case EventUserMessage, EventExternalMessage:
		return transitionIdle(State{Kind: StateIdle}, ctx, ev)

	default:
		return state, ctx, nil
	}
}

// endOfTurn decides what state follows the completion of a model turn with
// no further tool calls, based on the current mode: autonomous mode paces
// itself with a delay, step mode waits for an explicit step, and
// conversation mode simply goes idle.
func endOfTurn(ctx Context) (State, []Effect) {
	switch ctx.Mode {
	case ModeAutonomous:
		next := State{Kind: StateWaitingDelay, DelayMS: ctx.DelayMS}
		return next, []Effect{{Kind: EffectScheduleDelay, DelayMS: ctx.DelayMS}, fsmStateEffect(next)}
	case ModeStep:
		next := State{Kind: StateWaitingStep}
		return next, []Effect{{Kind: EffectWaitForStep}, fsmStateEffect(next)}
	default:
		next := State{Kind: StateIdle}
		return next, []Effect{fsmStateEffect(next)}
	}
}

func broadcastState(ctx Context) Effect {
	return Effect{Kind: EffectBroadcastFSMState, FSMState: "mode=" + string(ctx.Mode)}
}

func fsmStateEffect(s State) Effect {
	return Effect{Kind: EffectBroadcastFSMState, FSMState: string(s.Kind)}
}

var streamCounter uint64

// newStreamID allocates a process-unique stream identifier. It intentionally
// avoids time/random sources so Transition stays pure and deterministic in
// tests; uniqueness within a single process is all callers need.
func newStreamID() string {
	streamCounter++
	return "stream-" + itoa(streamCounter)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
