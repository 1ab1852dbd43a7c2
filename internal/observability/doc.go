// Package observability provides the metrics, structured logging, and event
// timeline capabilities the control plane uses to instrument itself.
//
// # Overview
//
// The package covers two pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction, plus an
//     in-memory event timeline for replaying a single run
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: minimal performance impact on the turn loop
//   - Type-safe: strongly-typed APIs reduce configuration errors
//   - Standards-based: built on Prometheus and log/slog
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - FSM turn throughput and tool execution performance
//   - Model provider stream errors and token consumption
//   - Context-pressure ratio and the compactions it triggers
//   - Background task counts and terminal outcomes
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track tool execution
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
//	// Track context pressure
//	metrics.SetContextPressureRatio(0.62)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic correlation ID propagation from context (run, session, tool call)
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddRunID(ctx, runID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "dispatching tool call",
//	    "tool", call.Name,
//	    "attempt", attempt,
//	)
//
//	logger.Error(ctx, "tool execution failed",
//	    "error", err,
//	    "tool", call.Name,
//	)
//
// # Event Timeline
//
// EventRecorder and MemoryEventStore capture a replayable timeline of a
// single run: tool starts/ends, run start/end, and arbitrary custom events,
// keyed by the run and session correlation IDs carried on the context.
//
// Example usage:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	ctx = observability.AddRunID(ctx, runID)
//	recorder.RecordRunStart(ctx, runID, nil)
//	recorder.RecordToolStart(ctx, "exec", input)
//	// ... run the tool ...
//	recorder.RecordToolEnd(ctx, "exec", elapsed, output, err)
//	recorder.RecordRunEnd(ctx, elapsed, nil)
//
//	events, _ := store.GetByRunID(runID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
//
// # Context Propagation
//
// Correlation IDs travel through context.Context so metrics, logs, and
// timeline events about the same tool call or run can be joined after the
// fact:
//
//	ctx = observability.AddRunID(ctx, "run-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddToolCallID(ctx, "call-789")
//
//	logger.Info(ctx, "processing") // includes run_id, session_id, tool_call_id
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
// Metrics can be verified using prometheus/testutil against an isolated
// registry; logging can write to a bytes.Buffer for assertions.
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Turn throughput
//	rate(agentcp_turn_total[5m])
//
//	# Tool latency (95th percentile)
//	histogram_quantile(0.95, rate(agentcp_tool_execution_duration_seconds_bucket[5m]))
//
//	# Context pressure
//	agentcp_context_pressure_ratio
//
//	# Background task backlog
//	agentcp_background_tasks_active
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
