// Package models provides the domain types shared across the control plane:
// the append-only message log, notables, background tasks, sessions, and the
// tool call/result envelopes that flow between the FSM and the model.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a message in the working window.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in the append-only message log that backs the
// working window presented to the model on every turn.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Tokens caches the estimated token cost of Content so the context
	// manager doesn't recompute it on every pressure check.
	Tokens int `json:"tokens,omitempty"`
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NotableKind categorizes why a notable was recorded.
type NotableKind string

const (
	NotableKindCompaction NotableKind = "compaction"
	NotableKindError      NotableKind = "error"
	NotableKindMilestone  NotableKind = "milestone"
	NotableKindUser       NotableKind = "user"
)

// Notable is a durable, out-of-band annotation the agent or operator leaves
// on a session -- a breadcrumb that survives compaction and session handoff
// even after the messages around it are summarized away.
type Notable struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Kind      NotableKind `json:"kind"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionStatus tracks whether a session is the single currently-open one.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is a bounded span of the working window between two compaction
// handoffs. The store enforces that at most one session is SessionOpen at a
// time.
type Session struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	Summary   string        `json:"summary,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ClosedAt  time.Time     `json:"closed_at,omitempty"`
}
