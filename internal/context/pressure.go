package context

import "github.com/riverrun/agentcp/pkg/models"

// PressureLevel classifies how full the working window is relative to the
// model's context budget.
type PressureLevel string

const (
	// PressureNormal: ratio < 0.70. No action needed.
	PressureNormal PressureLevel = "normal"

	// PressureSoft: 0.70 <= ratio < 0.90. Soft compaction should run.
	PressureSoft PressureLevel = "soft"

	// PressureHard: 0.90 <= ratio < 1.10. Hard compaction (session handoff)
	// should be triggered.
	PressureHard PressureLevel = "hard"

	// PressureOverflow: ratio >= 1.10. The window is already over budget;
	// hard compaction is mandatory and should not wait for a grace period.
	PressureOverflow PressureLevel = "overflow"
)

const (
	softThreshold     = 0.70
	hardThreshold     = 0.90
	overflowThreshold = 1.10
)

// ClassifyPressure maps a used/budget ratio to a PressureLevel using the
// fixed thresholds 0.70 / 0.90 / 1.10.
func ClassifyPressure(ratio float64) PressureLevel {
	switch {
	case ratio >= overflowThreshold:
		return PressureOverflow
	case ratio >= hardThreshold:
		return PressureHard
	case ratio >= softThreshold:
		return PressureSoft
	default:
		return PressureNormal
	}
}

// Manager tracks the working window's token budget and decides when
// compaction is needed.
type Manager struct {
	budgetTokens int
}

// NewManager creates a context manager with the given token budget.
func NewManager(budgetTokens int) *Manager {
	if budgetTokens <= 0 {
		budgetTokens = DefaultContextWindow
	}
	return &Manager{budgetTokens: budgetTokens}
}

// BudgetTokens returns the configured token budget.
func (m *Manager) BudgetTokens() int { return m.budgetTokens }

// Usage estimates the token usage of the given message log and classifies
// the resulting pressure level.
func (m *Manager) Usage(messages []*models.Message) (used int, ratio float64, level PressureLevel) {
	contents := make([]string, len(messages))
	for i, msg := range messages {
		contents[i] = msg.Content
	}
	used = EstimateTokensForMessages(contents)
	if m.budgetTokens > 0 {
		ratio = float64(used) / float64(m.budgetTokens)
	}
	level = ClassifyPressure(ratio)
	return used, ratio, level
}
