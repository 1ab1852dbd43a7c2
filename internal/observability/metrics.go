package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting control plane
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - FSM turn throughput and latency, by terminal outcome
//   - Tool execution counts, latencies, and retries, by tool name
//   - Model provider stream errors and token consumption
//   - Context-pressure ratio and the compactions it triggers
//   - Background task counts and terminal outcomes
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("exec", "success", 0.42)
//	defer metrics.RecordTurn("responded", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts completed FSM turns by terminal outcome
	// (responded, tool_call, error).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures wall-clock time from turn start to its
	// terminal effect, by outcome.
	TurnDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, outcome (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRetries counts attempts beyond the first for a single tool call.
	// Labels: tool
	ToolRetries *prometheus.CounterVec

	// StreamErrors counts model provider stream failures.
	// Labels: class
	StreamErrors *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, kind (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ContextPressureRatio gauges the most recently computed used/budget
	// token ratio for the active session.
	ContextPressureRatio prometheus.Gauge

	// CompactionCounter counts context-pressure responses.
	// Labels: kind (soft_compact|hand_off)
	CompactionCounter *prometheus.CounterVec

	// ActiveBackgroundTasks gauges the number of background tasks
	// currently running.
	ActiveBackgroundTasks prometheus.Gauge

	// TaskCounter counts background task terminal outcomes.
	// Labels: status
	TaskCounter *prometheus.CounterVec

	// FSMStateTransitions counts the FSM entering each state.
	// Labels: state
	FSMStateTransitions *prometheus.CounterVec
}

// NewMetrics constructs and registers every collector against the default
// Prometheus registry.
//
// Example:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("exec", "success", 0.42)
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_turn_total",
			Help: "Total number of FSM turns completed, by outcome.",
		}, []string{"outcome"}),

		TurnDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcp_turn_duration_seconds",
			Help:    "Time from turn start to its terminal effect.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		ToolExecutionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_tool_execution_total",
			Help: "Total tool invocations, by tool name and outcome.",
		}, []string{"tool", "outcome"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcp_tool_execution_duration_seconds",
			Help:    "Tool invocation latency, by tool name.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ToolRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_tool_retries_total",
			Help: "Tool invocation attempts beyond the first, by tool name.",
		}, []string{"tool"}),

		StreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_stream_errors_total",
			Help: "Model provider stream failures, by error class.",
		}, []string{"class"}),

		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_llm_tokens_total",
			Help: "Prompt and completion tokens consumed, by model and kind.",
		}, []string{"model", "kind"}),

		ContextPressureRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentcp_context_pressure_ratio",
			Help: "Most recently computed used/budget token ratio for the active session.",
		}),

		CompactionCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_compaction_total",
			Help: "Context pressure responses, by kind (soft_compact, hand_off).",
		}, []string{"kind"}),

		ActiveBackgroundTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentcp_background_tasks_active",
			Help: "Number of background tasks currently running.",
		}),

		TaskCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_task_total",
			Help: "Background task terminal outcomes, by status.",
		}, []string{"status"}),

		FSMStateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcp_fsm_state_transitions_total",
			Help: "FSM state transitions, by destination state.",
		}, []string{"state"}),
	}
}

// RecordTurn records a completed FSM turn and its duration.
//
// Example:
//
//	metrics.RecordTurn("responded", time.Since(start).Seconds())
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordToolExecution records a completed tool invocation.
//
// Example:
//
//	metrics.RecordToolExecution("exec", "success", 0.42)
func (m *Metrics) RecordToolExecution(tool, outcome string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordToolRetry records a retried attempt of a tool call.
//
// Example:
//
//	metrics.RecordToolRetry("web_fetch")
func (m *Metrics) RecordToolRetry(tool string) {
	m.ToolRetries.WithLabelValues(tool).Inc()
}

// RecordStreamError records a model provider stream failure.
//
// Example:
//
//	metrics.RecordStreamError("timeout")
func (m *Metrics) RecordStreamError(class string) {
	m.StreamErrors.WithLabelValues(class).Inc()
}

// RecordLLMTokens records prompt or completion token usage for a request.
//
// Example:
//
//	metrics.RecordLLMTokens("gpt-4o-mini", "prompt", 812)
//	metrics.RecordLLMTokens("gpt-4o-mini", "completion", 140)
func (m *Metrics) RecordLLMTokens(model, kind string, tokens int) {
	m.LLMTokensUsed.WithLabelValues(model, kind).Add(float64(tokens))
}

// SetContextPressureRatio sets the gauge to the most recently computed
// used/budget ratio for the active session.
//
// Example:
//
//	metrics.SetContextPressureRatio(0.62)
func (m *Metrics) SetContextPressureRatio(ratio float64) {
	m.ContextPressureRatio.Set(ratio)
}

// RecordCompaction records a context-pressure response.
//
// Example:
//
//	metrics.RecordCompaction("soft_compact")
func (m *Metrics) RecordCompaction(kind string) {
	m.CompactionCounter.WithLabelValues(kind).Inc()
}

// SetActiveBackgroundTasks sets the current count of running background
// tasks.
//
// Example:
//
//	metrics.SetActiveBackgroundTasks(3)
func (m *Metrics) SetActiveBackgroundTasks(count int) {
	m.ActiveBackgroundTasks.Set(float64(count))
}

// RecordTaskOutcome records a background task reaching a terminal status.
//
// Example:
//
//	metrics.RecordTaskOutcome("succeeded")
//	metrics.RecordTaskOutcome("failed")
func (m *Metrics) RecordTaskOutcome(status string) {
	m.TaskCounter.WithLabelValues(status).Inc()
}

// RecordFSMTransition records the FSM entering a new state.
//
// Example:
//
//	metrics.RecordFSMTransition("streaming")
func (m *Metrics) RecordFSMTransition(state string) {
	m.FSMStateTransitions.WithLabelValues(state).Inc()
}
