package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverrun/agentcp/internal/agent"
	"github.com/riverrun/agentcp/internal/broadcast"
	agentcontext "github.com/riverrun/agentcp/internal/context"
	"github.com/riverrun/agentcp/internal/store"
	"github.com/riverrun/agentcp/pkg/models"
)

// checkContextPressure recomputes the working window's token pressure and
// reacts according to its level: normal does nothing, soft summarizes
// over-long tool messages in place, and hard/overflow hands the session off
// to a fresh one after a grace period.
func (r *Runtime) checkContextPressure(ctx context.Context, sessionID string) {
	history, err := r.store.GetHistory(ctx, sessionID, 0)
	if err != nil {
		slog.Error("context pressure: read history failed", "session_id", sessionID, "error", err)
		return
	}

	used, ratio, level := r.ctxMgr.Usage(history)
	if r.metrics != nil {
		r.metrics.SetContextPressureRatio(ratio)
	}
	r.hub.Publish(broadcast.Event{
		Type:      broadcast.EventContextPressure,
		SessionID: sessionID,
		Time:      time.Now(),
		ContextPressure: &broadcast.ContextPressureInfo{
			UsedTokens:   used,
			BudgetTokens: r.ctxMgr.BudgetTokens(),
			Ratio:        ratio,
			Level:        string(level),
		},
	})

	switch level {
	case agentcontext.PressureSoft:
		r.softCompact(ctx, sessionID, history)
	case agentcontext.PressureHard, agentcontext.PressureOverflow:
		r.handOff(ctx, sessionID, history)
	}
}

func (r *Runtime) softCompact(ctx context.Context, sessionID string, history []*models.Message) {
	compacted := r.ctxMgr.SoftCompact(history)
	if err := r.store.ReplaceMessages(ctx, sessionID, compacted); err != nil {
		slog.Error("soft compaction failed", "session_id", sessionID, "error", err)
		return
	}
	r.addNotable(ctx, sessionID, models.NotableKindCompaction, "soft compaction summarized oversized tool messages")
	if r.metrics != nil {
		r.metrics.RecordCompaction("soft_compact")
	}
}

// handOff carries out a hard-pressure session handoff: it warns observers,
// waits out the grace period so an in-flight turn can finish, then closes
// the current session with a structural summary and opens a fresh one
// seeded with the divider message the plan computed.
func (r *Runtime) handOff(ctx context.Context, sessionID string, history []*models.Message) {
	plan := r.ctxMgr.PlanHandoff(history)
	if r.metrics != nil {
		r.metrics.RecordCompaction("hand_off")
	}

	r.hub.Publish(broadcast.Event{Type: broadcast.EventNotable, SessionID: sessionID, Time: time.Now(), Notable: &models.Notable{
		SessionID: sessionID, Kind: models.NotableKindCompaction, Content: plan.Warning,
	}})

	select {
	case <-time.After(plan.Grace):
	case <-ctx.Done():
		return
	}

	if err := r.store.CloseSession(ctx, sessionID, plan.Summary); err != nil {
		slog.Error("close session failed", "session_id", sessionID, "error", err)
		return
	}

	session, err := r.store.CreateSession(ctx)
	if err != nil {
		slog.Error("create session after handoff failed", "error", err)
		return
	}

	if plan.DividerMessage != nil {
		plan.DividerMessage.SessionID = session.ID
		if err := r.store.AppendMessage(ctx, session.ID, plan.DividerMessage); err != nil {
			slog.Error("append handoff divider failed", "session_id", session.ID, "error", err)
		}
	}

	r.mu.Lock()
	r.fsmCtx.SessionID = session.ID
	r.mu.Unlock()

	r.addNotable(ctx, session.ID, models.NotableKindCompaction, plan.Summary)
}

// scheduleDelay arranges for a delay_elapsed event after delayMS
// milliseconds, persisting the delay so it survives a process restart
// query, and cancels any previously scheduled delay for this runtime.
func (r *Runtime) scheduleDelay(sessionID string, delayMS int) {
	r.store.SetKV(context.Background(), store.KeyDelayMS, itoa(delayMS))

	r.mu.Lock()
	if existing, ok := r.timers["delay"]; ok {
		existing.Stop()
	}
	r.timers["delay"] = time.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
		r.Submit(agent.Event{Kind: agent.EventDelayElapsed})
	})
	r.mu.Unlock()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
