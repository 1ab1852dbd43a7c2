package context

import (
	"fmt"
	"time"

	"github.com/riverrun/agentcp/pkg/models"
)

// softCompactToolMessageMinChars is the content length above which a tool
// message becomes a soft-compaction candidate.
const softCompactToolMessageMinChars = 500

// softCompactKeepLast is the number of most recent messages that soft
// compaction never touches, regardless of role or length.
const softCompactKeepLast = 10

// softCompactHeadChars is how much of an over-long tool message's content is
// kept verbatim before the compacted marker.
const softCompactHeadChars = 200

// SoftCompact summarizes oversized tool messages to relieve context
// pressure without ending the session: every tool-role message older than
// the last softCompactKeepLast messages, whose content exceeds
// softCompactToolMessageMinChars, is replaced with a truncated head plus a
// marker noting how much was omitted. Everything else passes through
// untouched.
func (m *Manager) SoftCompact(messages []*models.Message) []*models.Message {
	n := len(messages)
	out := make([]*models.Message, n)
	cutoff := n - softCompactKeepLast

	for i, msg := range messages {
		if i < cutoff && msg.Role == models.RoleTool && len(msg.Content) > softCompactToolMessageMinChars {
			clone := *msg
			clone.Content = summarizeToolContent(msg.Content)
			clone.Tokens = 0
			out[i] = &clone
			continue
		}
		out[i] = msg
	}
	return out
}

func summarizeToolContent(content string) string {
	if len(content) <= softCompactHeadChars {
		return content
	}
	omitted := len(content) - softCompactHeadChars
	return fmt.Sprintf("%s\n…[compacted: %d characters omitted]", content[:softCompactHeadChars], omitted)
}

// GraceDuration is how long the FSM should wait after emitting the hard
// compaction warning before proceeding with the session handoff, giving an
// in-flight turn a chance to reach a natural stopping point.
const GraceDuration = 5 * time.Second

// HandoffWarning is the text broadcast immediately before a hard-pressure
// session handoff begins.
const HandoffWarning = "context window is nearly full; starting a new session"

// HandoffPlan is the pure result of deciding how to hand off from a session
// whose working window has hit hard/overflow pressure. The FSM's effect
// executor is responsible for actually closing/opening sessions and
// persisting the divider message; this just computes what those effects
// should contain.
type HandoffPlan struct {
	Warning        string
	Grace          time.Duration
	Summary        string
	DividerMessage *models.Message
}

// PlanHandoff builds a HandoffPlan for the given message log. The summary is
// a simple structural digest (message counts by role) rather than a model
// call, keeping compaction decisions independent of the model collaborator.
func (m *Manager) PlanHandoff(messages []*models.Message) HandoffPlan {
	var userCount, assistantCount, toolCount int
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			userCount++
		case models.RoleAssistant:
			assistantCount++
		case models.RoleTool:
			toolCount++
		}
	}

	summary := fmt.Sprintf(
		"Session handoff: %d messages (%d user, %d assistant, %d tool) summarized due to context pressure.",
		len(messages), userCount, assistantCount, toolCount,
	)

	divider := &models.Message{
		Role:    models.RoleSystem,
		Content: "--- new session started after context handoff ---\n" + summary,
	}

	return HandoffPlan{
		Warning:        HandoffWarning,
		Grace:          GraceDuration,
		Summary:        summary,
		DividerMessage: divider,
	}
}
