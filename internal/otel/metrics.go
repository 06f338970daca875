package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "termkeeper"

// Metrics holds all OTEL metric instruments for termkeeper.
// All counters are cumulative (monotonic) and safe for concurrent use.
type Metrics struct {
	// Terminal lifecycle counters (partitioned by category / close reason)
	TerminalsCreated metric.Int64Counter
	TerminalsClosed  metric.Int64Counter

	// Activity edges (partitioned by direction: active, idle)
	ActivityEdges metric.Int64Counter

	// Control-mode stream failures that reverted to polling
	ControlFallbacks metric.Int64Counter

	// Failed multiplexer invocations
	CommandErrors metric.Int64Counter

	// Bytes captured from pane buffers
	CaptureBytes metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TerminalsCreated, err = meter.Int64Counter("terminals.created",
		metric.WithDescription("Terminals created, partitioned by category"))
	if err != nil {
		return nil, err
	}

	m.TerminalsClosed, err = meter.Int64Counter("terminals.closed",
		metric.WithDescription("Terminals closed, partitioned by reason (disposed, reconciled)"))
	if err != nil {
		return nil, err
	}

	m.ActivityEdges, err = meter.Int64Counter("activity.edges",
		metric.WithDescription("Activity state transitions, partitioned by direction (active, idle)"))
	if err != nil {
		return nil, err
	}

	m.ControlFallbacks, err = meter.Int64Counter("control.fallbacks",
		metric.WithDescription("Control-mode stream failures that reverted activity detection to polling"))
	if err != nil {
		return nil, err
	}

	m.CommandErrors, err = meter.Int64Counter("multiplexer.command_errors",
		metric.WithDescription("Failed tmux command invocations"))
	if err != nil {
		return nil, err
	}

	m.CaptureBytes, err = meter.Int64Counter("capture.bytes",
		metric.WithDescription("Bytes captured from pane buffers"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTerminalCreated records a terminal creation for a category.
func (m *Metrics) RecordTerminalCreated(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.TerminalsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("terminal.category", category),
	))
}

// RecordTerminalClosed records a terminal close with its reason.
func (m *Metrics) RecordTerminalClosed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.TerminalsClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("close.reason", reason),
	))
}

// RecordActivityEdge records an activity state transition.
func (m *Metrics) RecordActivityEdge(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.ActivityEdges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("edge.direction", direction),
	))
}

// RecordControlFallback records a fallback from control mode to polling.
func (m *Metrics) RecordControlFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.ControlFallbacks.Add(ctx, 1)
}

// RecordCommandError records a failed multiplexer invocation.
func (m *Metrics) RecordCommandError(ctx context.Context) {
	if m == nil {
		return
	}
	m.CommandErrors.Add(ctx, 1)
}

// RecordCaptureBytes records the size of one pane capture.
func (m *Metrics) RecordCaptureBytes(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.CaptureBytes.Add(ctx, n)
}
