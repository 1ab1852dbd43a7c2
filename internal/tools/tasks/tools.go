// Package tasks exposes the background task registry to the model as two
// polling tools: task_status reports the current state of a background or
// timed tool call, and task_wait blocks (up to a timeout) until the task
// reaches a terminal state.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/tasks"
)

// StatusTool reports the current state of a background task by id.
type StatusTool struct {
	store tasks.Store
}

// NewStatusTool creates a task_status tool over the given task store.
func NewStatusTool(store tasks.Store) *StatusTool {
	return &StatusTool{store: store}
}

func (t *StatusTool) Name() string { return "task_status" }

func (t *StatusTool) Description() string {
	return "Check the status of a background or timed tool call by task id."
}

func (t *StatusTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task id returned when the tool call was dispatched.",
			},
		},
		"required": []string{"task_id"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *StatusTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.store == nil {
		return toolError("task store unavailable"), nil
	}
	var input struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id := strings.TrimSpace(input.TaskID)
	if id == "" {
		return toolError("task_id is required"), nil
	}

	task, err := t.store.Get(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("lookup task: %v", err)), nil
	}
	if task == nil {
		return toolError("task not found: " + id), nil
	}
	return &agent.ToolResult{Content: string(describeTask(task))}, nil
}

// WaitTool blocks until a background task finishes or a timeout elapses.
type WaitTool struct {
	store        tasks.Store
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewWaitTool creates a task_wait tool. pollInterval controls how often the
// task store is polled; maxWait caps how long a single call may block
// regardless of the caller-requested timeout.
func NewWaitTool(store tasks.Store, pollInterval, maxWait time.Duration) *WaitTool {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	return &WaitTool{store: store, pollInterval: pollInterval, maxWait: maxWait}
}

func (t *WaitTool) Name() string { return "task_wait" }

func (t *WaitTool) Description() string {
	return "Wait for a background or timed tool call to finish, up to a timeout."
}

func (t *WaitTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task id returned when the tool call was dispatched.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum time to wait in seconds (capped at the server's configured maximum).",
				"minimum":     0,
			},
		},
		"required": []string{"task_id"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *WaitTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.store == nil {
		return toolError("task store unavailable"), nil
	}
	var input struct {
		TaskID         string `json:"task_id"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id := strings.TrimSpace(input.TaskID)
	if id == "" {
		return toolError("task_id is required"), nil
	}

	wait := t.maxWait
	if input.TimeoutSeconds > 0 {
		if requested := time.Duration(input.TimeoutSeconds) * time.Second; requested < wait {
			wait = requested
		}
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		task, err := t.store.Get(ctx, id)
		if err != nil {
			return toolError(fmt.Sprintf("lookup task: %v", err)), nil
		}
		if task == nil {
			return toolError("task not found: " + id), nil
		}
		if task.Status != tasks.StatusRunning {
			return &agent.ToolResult{Content: string(describeTask(task))}, nil
		}
		if !time.Now().Before(deadline) {
			return &agent.ToolResult{Content: string(describeTask(task))}, nil
		}

		select {
		case <-ctx.Done():
			return toolError(ctx.Err().Error()), nil
		case <-ticker.C:
		}
	}
}

func describeTask(task *tasks.Task) []byte {
	view := map[string]interface{}{
		"id":        task.ID,
		"tool_name": task.ToolName,
		"mode":      string(task.Mode),
		"status":    string(task.Status),
	}
	if !task.FinishedAt.IsZero() {
		view["finished_at"] = task.FinishedAt
	}
	if task.Error != "" {
		view["error"] = task.Error
	}
	if task.Result != nil {
		view["result"] = task.Result.Content
		view["is_error"] = task.Result.IsError
	}
	payload, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return []byte(`{"error":"failed to encode task"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
