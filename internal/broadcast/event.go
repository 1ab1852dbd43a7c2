// Package broadcast fans FSM-driven events out to any number of connected
// observers (a UI, a log tailer, a test harness) without ever blocking the
// agent turn loop that produces them.
package broadcast

import (
	"time"

	"github.com/riverrun/agentcp/pkg/models"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	// EventMessage announces a completed message appended to the log.
	EventMessage EventType = "message"

	// EventToken carries a single incremental chunk of assistant output.
	EventToken EventType = "token"

	// EventReasoning carries a single incremental chunk of model reasoning
	// (thinking) text, kept separate from EventToken so observers can choose
	// to hide it.
	EventReasoning EventType = "reasoning"

	// EventState announces an FSM mode/delay change (conversation vs
	// autonomous mode, the current tick delay).
	EventState EventType = "state"

	// EventNotable announces a new Notable recorded against the session.
	EventNotable EventType = "notable"

	// EventContextPressure announces a recomputed context pressure level.
	EventContextPressure EventType = "context_pressure"

	// EventFSMState announces a raw FSM state transition, primarily for
	// debugging and the test harness.
	EventFSMState EventType = "fsm_state"

	// EventToolLifecycle announces a tool call starting, completing, failing,
	// or timing out.
	EventToolLifecycle EventType = "tool_lifecycle"
)

// ToolLifecycleInfo mirrors agent.ToolLifecycleEvent for observers that don't
// want to depend on the agent package.
type ToolLifecycleInfo struct {
	Kind       string `json:"kind"`
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Attempt    int    `json:"attempt"`
	Retrying   bool   `json:"retrying,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// ContextPressureInfo summarizes the context manager's most recent
// pressure computation.
type ContextPressureInfo struct {
	UsedTokens  int     `json:"used_tokens"`
	BudgetTokens int    `json:"budget_tokens"`
	Ratio       float64 `json:"ratio"`
	Level       string  `json:"level"` // normal, soft, hard, overflow
}

// Event is the single envelope type broadcast to observers. Exactly one
// payload field is populated for a given Type.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Seq  uint64    `json:"seq"`

	SessionID string `json:"session_id,omitempty"`

	Message *models.Message `json:"message,omitempty"`
	Notable *models.Notable `json:"notable,omitempty"`

	Token     string `json:"token,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`

	Mode    string `json:"mode,omitempty"`
	DelayMS int    `json:"delay_ms,omitempty"`

	ContextPressure *ContextPressureInfo `json:"context_pressure,omitempty"`

	FSMState string `json:"fsm_state,omitempty"`

	ToolLifecycle *ToolLifecycleInfo `json:"tool_lifecycle,omitempty"`

	Err string `json:"error,omitempty"`
}
