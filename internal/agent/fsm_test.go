package agent

import (
	"errors"
	"testing"

	"github.com/riverrun/agentcp/pkg/models"
)

func hasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestTransitionIdleUserMessageStartsStream(t *testing.T) {
	state := State{Kind: StateIdle}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	next, _, effects := Transition(state, ctx, Event{Kind: EventUserMessage, Text: "hi"})

	if next.Kind != StateStreaming {
		t.Fatalf("next state = %v, want streaming", next.Kind)
	}
	if next.StreamID == "" {
		t.Fatal("expected a stream id to be allocated")
	}
	if !hasEffect(effects, EffectSaveMessage) || !hasEffect(effects, EffectStartStream) {
		t.Fatalf("missing expected effects: %+v", effects)
	}
}

func TestTransitionIdleAutonomousTickIgnoredOutsideAutonomousMode(t *testing.T) {
	state := State{Kind: StateIdle}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	next, _, effects := Transition(state, ctx, Event{Kind: EventAutonomousTick})

	if next.Kind != StateIdle {
		t.Fatalf("next state = %v, want idle (tick ignored)", next.Kind)
	}
	if len(effects) != 0 {
		t.Fatalf("expected no effects, got %+v", effects)
	}
}

func TestTransitionStreamingChunkEmitsToken(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1"}

	next, _, effects := Transition(state, ctx, Event{Kind: EventStreamChunk, StreamID: "stream-1", ChunkText: "hel"})

	if next.Kind != StateStreaming {
		t.Fatalf("next state = %v, want streaming", next.Kind)
	}
	if len(effects) != 1 || effects[0].Kind != EffectEmitToken || effects[0].Token != "hel" {
		t.Fatalf("unexpected effects: %+v", effects)
	}
}

func TestTransitionStreamingStaleChunkIgnored(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1"}

	next, _, effects := Transition(state, ctx, Event{Kind: EventStreamChunk, StreamID: "stream-0", ChunkText: "stale"})

	if next.Kind != StateStreaming || next.StreamID != "stream-1" {
		t.Fatalf("stale event should be a no-op, got %+v", next)
	}
	if len(effects) != 0 {
		t.Fatalf("expected no effects for stale chunk, got %+v", effects)
	}
}

func TestTransitionStreamEndWithToolCallsMovesToExecutingTools(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}
	msg := &models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call-1", Name: "shell"}},
	}

	next, _, effects := Transition(state, ctx, Event{Kind: EventStreamEnd, StreamID: "stream-1", FinalMessage: msg})

	if next.Kind != StateExecutingTools {
		t.Fatalf("next state = %v, want executing_tools", next.Kind)
	}
	if len(next.PendingCalls) != 1 || next.Cursor != 0 {
		t.Fatalf("unexpected pending calls state: %+v", next)
	}
	if !hasEffect(effects, EffectExecuteTool) {
		t.Fatalf("expected execute_tool effect, got %+v", effects)
	}
}

func TestTransitionStreamEndWithoutToolCallsGoesIdleInConversationMode(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}
	msg := &models.Message{Role: models.RoleAssistant, Content: "done"}

	next, _, _ := Transition(state, ctx, Event{Kind: EventStreamEnd, StreamID: "stream-1", FinalMessage: msg})

	if next.Kind != StateIdle {
		t.Fatalf("next state = %v, want idle", next.Kind)
	}
}

func TestTransitionStreamEndWithoutToolCallsWaitsDelayInAutonomousMode(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeAutonomous, DelayMS: 5000}
	msg := &models.Message{Role: models.RoleAssistant, Content: "done"}

	next, _, effects := Transition(state, ctx, Event{Kind: EventStreamEnd, StreamID: "stream-1", FinalMessage: msg})

	if next.Kind != StateWaitingDelay || next.DelayMS != 5000 {
		t.Fatalf("next state = %+v, want waiting_delay(5000)", next)
	}
	if !hasEffect(effects, EffectScheduleDelay) {
		t.Fatalf("expected schedule_delay effect, got %+v", effects)
	}
}

func TestTransitionStreamErrorLogsAndRetries(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventStreamError, StreamID: "stream-1", Err: errors.New("boom")})

	if next.Kind != StateStreaming {
		t.Fatalf("next state = %v, want streaming (first failure retries)", next.Kind)
	}
	if ctx2.ConsecutiveErrors != 1 {
		t.Fatalf("expected consecutive error count 1, got %d", ctx2.ConsecutiveErrors)
	}
	if !hasEffect(effects, EffectLogError) {
		t.Fatalf("expected log_error effect, got %+v", effects)
	}
}

func TestTransitionExecutingToolsAdvancesCursor(t *testing.T) {
	calls := []models.ToolCall{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}}
	state := State{Kind: StateExecutingTools, PendingCalls: calls, Cursor: 0}
	ctx := Context{SessionID: "s1"}

	next, ctx, effects := Transition(state, ctx, Event{Kind: EventToolResult, ToolCallID: "c1", Result: models.ToolResult{ToolCallID: "c1", Content: "ok"}})

	if next.Kind != StateExecutingTools || next.Cursor != 1 {
		t.Fatalf("expected cursor to advance to 1, got %+v", next)
	}
	if len(ctx.PendingToolResults) != 1 {
		t.Fatalf("expected 1 pending result recorded, got %d", len(ctx.PendingToolResults))
	}
	if !hasEffect(effects, EffectExecuteTool) {
		t.Fatalf("expected execute_tool effect for next call, got %+v", effects)
	}
}

func TestTransitionExecutingToolsLastResultStartsNewStream(t *testing.T) {
	calls := []models.ToolCall{{ID: "c1", Name: "a"}}
	state := State{Kind: StateExecutingTools, PendingCalls: calls, Cursor: 0}
	ctx := Context{SessionID: "s1"}

	next, _, effects := Transition(state, ctx, Event{Kind: EventToolResult, ToolCallID: "c1", Result: models.ToolResult{ToolCallID: "c1", Content: "ok"}})

	if next.Kind != StateStreaming {
		t.Fatalf("next state = %v, want streaming (continue turn)", next.Kind)
	}
	if !hasEffect(effects, EffectStartStream) {
		t.Fatalf("expected start_stream effect, got %+v", effects)
	}
}

func TestTransitionWaitingDelayElapsedStartsNextTick(t *testing.T) {
	state := State{Kind: StateWaitingDelay, DelayMS: 1000}
	ctx := Context{SessionID: "s1", Mode: ModeAutonomous}

	next, _, effects := Transition(state, ctx, Event{Kind: EventDelayElapsed})

	if next.Kind != StateStreaming {
		t.Fatalf("next state = %v, want streaming (delay_elapsed resumes as an autonomous tick)", next.Kind)
	}
	if !hasEffect(effects, EffectStartStream) {
		t.Fatalf("expected start_stream effect, got %+v", effects)
	}
}

func TestTransitionWaitingDelayInterruptedByUserMessage(t *testing.T) {
	state := State{Kind: StateWaitingDelay, DelayMS: 1000}
	ctx := Context{SessionID: "s1", Mode: ModeAutonomous}

	next, _, effects := Transition(state, ctx, Event{Kind: EventUserMessage, Text: "hey"})

	if next.Kind != StateStreaming {
		t.Fatalf("expected the message to interrupt the wait and start a stream, got %v", next.Kind)
	}
	if !hasEffect(effects, EffectSaveMessage) {
		t.Fatalf("expected save_message effect, got %+v", effects)
	}
}

func TestTransitionWaitingStepAdvancesOnStep(t *testing.T) {
	state := State{Kind: StateWaitingStep}
	ctx := Context{SessionID: "s1", Mode: ModeStep}

	next, _, _ := Transition(state, ctx, Event{Kind: EventStep})

	if next.Kind != StateIdle {
		t.Fatalf("next state = %v, want idle", next.Kind)
	}
}

func TestTransitionModeChangedAcceptedInAnyState(t *testing.T) {
	state := State{Kind: StateExecutingTools}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventModeChanged, NewMode: ModeAutonomous})

	if next.Kind != StateExecutingTools {
		t.Fatalf("mode change shouldn't alter the running state, got %v", next.Kind)
	}
	if ctx2.Mode != ModeAutonomous {
		t.Fatalf("expected mode to update to autonomous, got %v", ctx2.Mode)
	}
	if !hasEffect(effects, EffectBroadcastFSMState) {
		t.Fatalf("expected a broadcast effect, got %+v", effects)
	}
}

func TestTransitionDelayChangedUpdatesContext(t *testing.T) {
	state := State{Kind: StateIdle}
	ctx := Context{SessionID: "s1", DelayMS: 1000}

	_, ctx2, _ := Transition(state, ctx, Event{Kind: EventDelayChanged, DelayMS: 2500})

	if ctx2.DelayMS != 2500 {
		t.Fatalf("delay = %d, want 2500", ctx2.DelayMS)
	}
}

func TestTransitionUserMessageDuringStreamingIsQueuedNotDropped(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventUserMessage, Text: "are you there"})

	if next.Kind != StateStreaming {
		t.Fatalf("a queued message should not interrupt the running stream, got %v", next.Kind)
	}
	if len(effects) != 0 {
		t.Fatalf("queueing should produce no effects, got %+v", effects)
	}
	if len(ctx2.QueuedUserMessages) != 1 || ctx2.QueuedUserMessages[0] != "are you there" {
		t.Fatalf("expected the message to be queued, got %+v", ctx2.QueuedUserMessages)
	}
}

func TestTransitionQueuedMessageDrainedAtEndOfTurn(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation, QueuedUserMessages: []string{"first", "second"}}
	msg := &models.Message{Role: models.RoleAssistant, Content: "done"}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventStreamEnd, StreamID: "stream-1", FinalMessage: msg})

	if next.Kind != StateStreaming {
		t.Fatalf("expected the queued message to start a new turn, got %v", next.Kind)
	}
	if len(ctx2.QueuedUserMessages) != 1 || ctx2.QueuedUserMessages[0] != "second" {
		t.Fatalf("expected one message left in the queue, got %+v", ctx2.QueuedUserMessages)
	}
	if !hasEffect(effects, EffectStartStream) {
		t.Fatalf("expected start_stream effect, got %+v", effects)
	}
}

func TestTransitionStreamErrorRetriesUpToThreeTimes(t *testing.T) {
	state := State{Kind: StateStreaming, StreamID: "stream-1"}
	ctx := Context{SessionID: "s1", Mode: ModeConversation}

	var next State
	for i := 0; i < maxConsecutiveErrors-1; i++ {
		var effects []Effect
		next, ctx, effects = Transition(state, ctx, Event{Kind: EventStreamError, StreamID: state.StreamID, Err: errors.New("boom")})
		if next.Kind != StateStreaming {
			t.Fatalf("retry %d: expected streaming (retry), got %v", i, next.Kind)
		}
		if !hasEffect(effects, EffectStartStream) {
			t.Fatalf("retry %d: expected a retry start_stream effect, got %+v", i, effects)
		}
		state = next
	}

	// The third consecutive failure should pause rather than retry again.
	next, ctx, effects := Transition(state, ctx, Event{Kind: EventStreamError, StreamID: state.StreamID, Err: errors.New("boom")})
	if next.Kind != StateIdle {
		t.Fatalf("expected idle after %d consecutive errors, got %v", maxConsecutiveErrors, next.Kind)
	}
	if ctx.ConsecutiveErrors != 0 {
		t.Fatalf("expected the error counter to reset after pausing, got %d", ctx.ConsecutiveErrors)
	}
	if !hasEffect(effects, EffectSaveMessage) {
		t.Fatalf("expected a pause notice to be saved, got %+v", effects)
	}
}

func TestTransitionModeChangedToAutonomousFromIdleStartsTick(t *testing.T) {
	state := State{Kind: StateIdle}
	ctx := Context{SessionID: "s1", Mode: ModeConversation, DelayMS: 1000}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventModeChanged, NewMode: ModeAutonomous})

	if next.Kind != StateStreaming {
		t.Fatalf("expected switching to autonomous from idle to start a tick, got %v", next.Kind)
	}
	if ctx2.Mode != ModeAutonomous {
		t.Fatalf("expected mode to update, got %v", ctx2.Mode)
	}
	if !hasEffect(effects, EffectStartStream) {
		t.Fatalf("expected start_stream effect, got %+v", effects)
	}
}

func TestTransitionModeChangedToConversationFromWaitingDelayGoesIdle(t *testing.T) {
	state := State{Kind: StateWaitingDelay, DelayMS: 5000}
	ctx := Context{SessionID: "s1", Mode: ModeAutonomous}

	next, ctx2, effects := Transition(state, ctx, Event{Kind: EventModeChanged, NewMode: ModeConversation})

	if next.Kind != StateIdle {
		t.Fatalf("expected idle, got %v", next.Kind)
	}
	if ctx2.Mode != ModeConversation {
		t.Fatalf("expected mode to update, got %v", ctx2.Mode)
	}
	if !hasEffect(effects, EffectBroadcastFSMState) {
		t.Fatalf("expected a state broadcast, got %+v", effects)
	}
}
