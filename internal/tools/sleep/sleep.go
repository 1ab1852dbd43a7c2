// Package sleep provides the one tool whose job is to block: a bounded wait
// the model can use to pace itself between actions. It is also the tool that
// exercises the interrupt probe, since it is the handler most likely to be
// mid-call when a user message arrives.
package sleep

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
)

// pollInterval is how often Execute checks the interrupt probe while
// waiting, well under the ~1s cadence the probe contract requires.
const pollInterval = 200 * time.Millisecond

// defaultDuration and maxDuration bound an unreasonable or missing duration
// from the model.
const (
	defaultDuration = 5 * time.Second
	maxDuration     = 5 * time.Minute
)

// Tool sleeps for a requested duration, returning early with a partial
// result if the interrupt probe reports pending user input.
type Tool struct{}

// New creates the sleep tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Name() string { return "sleep" }

func (t *Tool) Description() string {
	return "Pause for up to five minutes. Returns early if a user message arrives."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"duration_ms": map[string]interface{}{
				"type":        "integer",
				"description": "How long to sleep, in milliseconds. Defaults to 5000, capped at 300000.",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		DurationMS int `json:"duration_ms"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("Error: invalid parameters: %v", err), IsError: true}, nil
		}
	}

	duration := defaultDuration
	if input.DurationMS > 0 {
		duration = time.Duration(input.DurationMS) * time.Millisecond
	}
	if duration > maxDuration {
		duration = maxDuration
	}

	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &agent.ToolResult{Content: "Error: sleep cancelled", IsError: true}, nil
		case <-ticker.C:
			if agent.ProbeInterrupt(ctx) {
				remaining := time.Until(deadline)
				return &agent.ToolResult{
					Content: fmt.Sprintf("Interrupted by new input after %s, %s remaining", duration-remaining, remaining.Round(time.Millisecond)),
				}, nil
			}
			if time.Now().After(deadline) {
				return &agent.ToolResult{Content: fmt.Sprintf("Slept %s", duration)}, nil
			}
		}
	}
}
