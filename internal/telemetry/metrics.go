// Package telemetry exposes the engine's counters as OpenTelemetry
// instruments.
//
// Protocol failures in the engine are silent by design: a bad frame is
// discarded and the engine goes back to idle. These counters are the only
// place such events become visible to an operator.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roach88/runctl/internal/wire"
)

// InstrumentationName is the meter name used for every instrument.
const InstrumentationName = "github.com/roach88/runctl"

// Discard reasons.
const (
	ReasonSymbolError   = "symbol_error"
	ReasonUnknownOpcode = "unknown_opcode"
	ReasonHardReset     = "hard_reset"
)

// Metrics holds the engine and log reader instruments.
type Metrics struct {
	decoded         metric.Int64Counter
	discarded       metric.Int64Counter
	dispatched      metric.Int64Counter
	acks            metric.Int64Counter
	logWritten      metric.Int64Counter
	logDropped      metric.Int64Counter
	wordsRead       metric.Int64Counter
	flushes         metric.Int64Counter
	dispatchLatency metric.Int64Histogram
}

// New creates the instruments on the given provider. A nil provider uses the
// global one registered with otel.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}
	var err error

	if m.decoded, err = meter.Int64Counter("runctl.commands.decoded",
		metric.WithDescription("Command opcodes latched by the receiver"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("create decoded counter: %w", err)
	}
	if m.discarded, err = meter.Int64Counter("runctl.commands.discarded",
		metric.WithDescription("Frames discarded before completion"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("create discarded counter: %w", err)
	}
	if m.dispatched, err = meter.Int64Counter("runctl.dispatch.completed",
		metric.WithDescription("Dispatch handshakes accepted by the agents"),
		metric.WithUnit("{dispatch}"),
	); err != nil {
		return nil, fmt.Errorf("create dispatch counter: %w", err)
	}
	if m.acks, err = meter.Int64Counter("runctl.ack.sent",
		metric.WithDescription("Acknowledgment packets accepted upstream"),
		metric.WithUnit("{packet}"),
	); err != nil {
		return nil, fmt.Errorf("create ack counter: %w", err)
	}
	if m.logWritten, err = meter.Int64Counter("runctl.log.written",
		metric.WithDescription("Log records pushed into the queue"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("create log written counter: %w", err)
	}
	if m.logDropped, err = meter.Int64Counter("runctl.log.dropped",
		metric.WithDescription("Log records lost to a full queue"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("create log dropped counter: %w", err)
	}
	if m.wordsRead, err = meter.Int64Counter("runctl.log.words_read",
		metric.WithDescription("Words returned by the management log register"),
		metric.WithUnit("{word}"),
	); err != nil {
		return nil, fmt.Errorf("create words read counter: %w", err)
	}
	if m.flushes, err = meter.Int64Counter("runctl.log.flushes",
		metric.WithDescription("Log queue flushes performed by the reader"),
		metric.WithUnit("{flush}"),
	); err != nil {
		return nil, fmt.Errorf("create flush counter: %w", err)
	}
	if m.dispatchLatency, err = meter.Int64Histogram("runctl.dispatch.latency",
		metric.WithDescription("Cycles from opcode latch to collective agent acknowledgment"),
		metric.WithUnit("{cycle}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128, 256, 1024),
	); err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return m, nil
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, err := New(noop.NewMeterProvider())
	if err != nil {
		// The noop provider never fails.
		panic(err)
	}
	return m
}

func opcodeAttr(op wire.Opcode) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("opcode", op.String()))
}

// CommandDecoded counts a latched opcode.
func (m *Metrics) CommandDecoded(op wire.Opcode) {
	m.decoded.Add(context.Background(), 1, opcodeAttr(op))
}

// CommandDiscarded counts a frame dropped for the given reason.
func (m *Metrics) CommandDiscarded(op wire.Opcode, reason string) {
	m.discarded.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("opcode", op.String()),
		attribute.String("reason", reason),
	))
}

// DispatchCompleted counts an accepted dispatch and records its latency.
func (m *Metrics) DispatchCompleted(op wire.Opcode, cycles uint64) {
	ctx := context.Background()
	m.dispatched.Add(ctx, 1, opcodeAttr(op))
	m.dispatchLatency.Record(ctx, int64(cycles), opcodeAttr(op))
}

// AckSent counts an accepted acknowledgment packet.
func (m *Metrics) AckSent(op wire.Opcode) {
	m.acks.Add(context.Background(), 1, opcodeAttr(op))
}

// LogWritten counts a record write; accepted is false when the queue was full.
func (m *Metrics) LogWritten(op wire.Opcode, accepted bool) {
	if accepted {
		m.logWritten.Add(context.Background(), 1, opcodeAttr(op))
		return
	}
	m.logDropped.Add(context.Background(), 1, opcodeAttr(op))
}

// WordRead counts one word returned on the management register. empty marks
// the all-zero sentinel.
func (m *Metrics) WordRead(empty bool) {
	m.wordsRead.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("empty", empty)))
}

// Flushed counts a reader flush and how many stale words it discarded.
func (m *Metrics) Flushed(words int) {
	m.flushes.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("words", words)))
}
