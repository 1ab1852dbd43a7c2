package agent

import (
	"context"
	"sync"
	"time"
)

// interruptProbeKey is the context key under which a tool's interrupt probe
// is stashed. Tools that block (sleep, long shell commands) poll it to
// return early when a user message is waiting.
type interruptProbeKey struct{}

// InterruptProbe reports whether new user input is pending and the tool
// should wrap up early if it can do so cleanly.
type InterruptProbe func() bool

// WithInterruptProbe attaches probe to ctx for the duration of a tool call.
func WithInterruptProbe(ctx context.Context, probe InterruptProbe) context.Context {
	return context.WithValue(ctx, interruptProbeKey{}, probe)
}

// ProbeInterrupt reads the interrupt probe from ctx. Absent a probe (e.g. in
// a unit test that calls a tool directly) it always reports false.
func ProbeInterrupt(ctx context.Context) bool {
	probe, ok := ctx.Value(interruptProbeKey{}).(InterruptProbe)
	if !ok || probe == nil {
		return false
	}
	return probe()
}

// PendingInputFlag tracks whether a user message has arrived recently enough
// that an in-flight tool call should consider input pending. The coordinator
// sets it for a short grace window on every user/external message and lets
// it expire on its own; tools never clear it directly.
type PendingInputFlag struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// NewPendingInputFlag returns a flag that starts clear.
func NewPendingInputFlag() *PendingInputFlag {
	return &PendingInputFlag{}
}

// SetPending marks the flag true for window, then clears it automatically
// unless superseded by a later call.
func (f *PendingInputFlag) SetPending(window time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(window, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pending = false
	})
}

// IsPending reports the current state; it is the InterruptProbe handed to
// tool execution contexts.
func (f *PendingInputFlag) IsPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}
