package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/observability"
	"github.com/riverrun/agentcp/pkg/models"
)

// pumpStream requests a completion from the model provider and translates
// the resulting chunk stream into FSM events, one Submit call per chunk.
// It runs in its own goroutine; Transition distinguishes a stale pump (one
// whose stream the FSM has already moved past) by comparing streamID, so a
// pump that outlives its relevance is harmless.
func (r *Runtime) pumpStream(ctx context.Context, sessionID, streamID string) {
	start := time.Now()
	if r.recorder != nil {
		ctx = observability.AddRunID(ctx, streamID)
		ctx = observability.AddSessionID(ctx, sessionID)
		_ = r.recorder.RecordRunStart(ctx, streamID, nil)
	}

	req, err := r.buildRequest(ctx, sessionID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordStreamError("request_build")
		}
		if r.recorder != nil {
			_ = r.recorder.RecordRunEnd(ctx, time.Since(start), err)
		}
		r.Submit(agent.Event{Kind: agent.EventStreamError, StreamID: streamID, Err: err})
		return
	}

	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordStreamError("provider_error")
		}
		if r.recorder != nil {
			_ = r.recorder.RecordRunEnd(ctx, time.Since(start), err)
		}
		r.Submit(agent.Event{Kind: agent.EventStreamError, StreamID: streamID, Err: err})
		return
	}

	var text string
	var toolCalls []models.ToolCall
	var inputTokens, outputTokens int

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			if r.metrics != nil {
				r.metrics.RecordStreamError("chunk_error")
			}
			if r.recorder != nil {
				_ = r.recorder.RecordRunEnd(ctx, time.Since(start), chunk.Error)
			}
			r.Submit(agent.Event{Kind: agent.EventStreamError, StreamID: streamID, Err: chunk.Error})
			return

		case chunk.ThinkingStart, chunk.ThinkingEnd:
			// Boundary markers only; nothing to emit.

		case chunk.Thinking != "":
			r.Submit(agent.Event{Kind: agent.EventStreamChunk, StreamID: streamID, ChunkKind: agent.ChunkReasoning, ChunkText: chunk.Thinking})

		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)

		case chunk.Text != "":
			text += chunk.Text
			r.Submit(agent.Event{Kind: agent.EventStreamChunk, StreamID: streamID, ChunkKind: agent.ChunkText, ChunkText: chunk.Text})
		}

		if chunk.InputTokens > 0 || chunk.OutputTokens > 0 {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}

		if chunk.Done {
			break
		}
	}

	final := &models.Message{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
		Tokens:    outputTokens,
	}
	if r.metrics != nil {
		if inputTokens > 0 {
			r.metrics.RecordLLMTokens(r.config.Model, "prompt", inputTokens)
		}
		if outputTokens > 0 {
			r.metrics.RecordLLMTokens(r.config.Model, "completion", outputTokens)
		}
	}
	if r.recorder != nil {
		_ = r.recorder.RecordRunEnd(ctx, time.Since(start), nil)
	}
	r.Submit(agent.Event{Kind: agent.EventStreamEnd, StreamID: streamID, FinalMessage: final})
}

// buildRequest assembles a CompletionRequest from the session's message log,
// repairing any tool call/result mismatch left by compaction before handing
// it to the model.
func (r *Runtime) buildRequest(ctx context.Context, sessionID string) (*agent.CompletionRequest, error) {
	history, err := r.store.GetHistory(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	history = agent.RepairTranscript(history)

	messages := make([]agent.CompletionMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, agent.CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}

	var tools []agent.Tool
	if r.provider.SupportsTools() && r.registry != nil {
		tools = r.registry.AsLLMTools()
	}

	return &agent.CompletionRequest{
		Model:     r.config.Model,
		System:    r.config.System,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: r.config.MaxTokens,
	}, nil
}

// runTool dispatches a single tool call and feeds its outcome back to the
// FSM as a tool_result event. Background and timed calls resolve
// immediately with a placeholder result carrying the task id; the real
// result lands in the store as the task completes and is recovered through
// task_status/task_wait rather than a second tool_result event, since the
// FSM has already advanced its cursor past this call by then.
func (r *Runtime) runTool(ctx context.Context, call models.ToolCall) {
	ctx = agent.WithInterruptProbe(ctx, r.pendingInput.IsPending)

	start := time.Now()
	if r.recorder != nil {
		_ = r.recorder.RecordToolStart(ctx, call.Name, call.Input)
	}

	outcome := r.dispatcher.Dispatch(ctx, call)

	result := outcome.Result
	if outcome.Pending {
		payload, _ := json.Marshal(map[string]string{
			"status":  "dispatched",
			"task_id": outcome.TaskID,
		})
		result = &models.ToolResult{ToolCallID: call.ID, Content: string(payload)}
	}
	if result == nil {
		slog.Error("tool dispatch produced no result", "tool", call.Name, "tool_call_id", call.ID)
		result = &models.ToolResult{ToolCallID: call.ID, Content: "tool dispatch produced no result", IsError: true}
	}

	if r.recorder != nil {
		var toolErr error
		if result.IsError {
			toolErr = fmt.Errorf("%s", result.Content)
		}
		_ = r.recorder.RecordToolEnd(ctx, call.Name, time.Since(start), result.Content, toolErr)
	}

	r.Submit(agent.Event{Kind: agent.EventToolResult, ToolCallID: call.ID, Result: *result})
}
