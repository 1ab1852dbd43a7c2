package context

import (
	"strings"
	"testing"

	"github.com/riverrun/agentcp/pkg/models"
)

func TestClassifyPressure(t *testing.T) {
	tests := []struct {
		ratio float64
		want  PressureLevel
	}{
		{0.0, PressureNormal},
		{0.69, PressureNormal},
		{0.70, PressureSoft},
		{0.89, PressureSoft},
		{0.90, PressureHard},
		{1.09, PressureHard},
		{1.10, PressureOverflow},
		{2.0, PressureOverflow},
	}
	for _, tt := range tests {
		if got := ClassifyPressure(tt.ratio); got != tt.want {
			t.Errorf("ClassifyPressure(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestManagerUsage(t *testing.T) {
	m := NewManager(100)
	messages := []*models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("a", 360)}, // 90 tokens + 4 overhead
	}
	used, ratio, level := m.Usage(messages)
	if used != 94 {
		t.Fatalf("used = %d, want 94", used)
	}
	if ratio < 0.9 {
		t.Fatalf("ratio = %v, want >= 0.9", ratio)
	}
	if level != PressureHard {
		t.Fatalf("level = %v, want %v", level, PressureHard)
	}
}

func TestSoftCompactSummarizesOldLongToolMessages(t *testing.T) {
	m := NewManager(DefaultContextWindow)

	messages := make([]*models.Message, 0, 12)
	messages = append(messages, &models.Message{Role: models.RoleTool, Content: strings.Repeat("x", 600)})
	for i := 0; i < 11; i++ {
		messages = append(messages, &models.Message{Role: models.RoleUser, Content: "recent"})
	}

	out := m.SoftCompact(messages)

	if out[0].Content == messages[0].Content {
		t.Fatal("expected the old oversized tool message to be summarized")
	}
	if !strings.Contains(out[0].Content, "compacted") {
		t.Fatalf("expected compacted marker, got %q", out[0].Content)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Content != "recent" {
			t.Fatalf("message %d should be untouched, got %q", i, out[i].Content)
		}
	}
}

func TestSoftCompactLeavesRecentMessagesAlone(t *testing.T) {
	m := NewManager(DefaultContextWindow)
	messages := []*models.Message{
		{Role: models.RoleTool, Content: strings.Repeat("x", 600)},
	}
	out := m.SoftCompact(messages)
	if out[0].Content != messages[0].Content {
		t.Fatal("expected message within the keepLast window to be left untouched")
	}
}

func TestPlanHandoff(t *testing.T) {
	m := NewManager(DefaultContextWindow)
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleTool, Content: "result"},
	}
	plan := m.PlanHandoff(messages)
	if plan.Grace != GraceDuration {
		t.Fatalf("grace = %v, want %v", plan.Grace, GraceDuration)
	}
	if !strings.Contains(plan.Summary, "3 messages") {
		t.Fatalf("summary = %q, expected message count", plan.Summary)
	}
	if plan.DividerMessage == nil || plan.DividerMessage.Role != models.RoleSystem {
		t.Fatal("expected a system divider message")
	}
}
