package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/wire"
)

// DefaultClockRate is the primary domain rate used by Run when none is
// configured.
const DefaultClockRate = 1_000_000

// signals is the snapshot of every registered output, taken at the start
// of a cycle. Components read siblings only through it.
type signals struct {
	rxState      RxState
	start        bool
	frame        wire.Frame
	latched      wire.Latched
	done         bool
	dispState    DispState
	completionTS uint64
	ackState     AckState
}

// Engine drives the primary clock domain.
//
// CRITICAL: Step and Run must be called from exactly one goroutine.
//
// Thread-safety model:
//   - Step(), Run(): single driving goroutine
//   - SetReset(), ResetLines(): safe from any goroutine
//   - state accessors (ReceiverState, Busy, ...): driving goroutine only,
//     or after Run has returned
type Engine struct {
	counter *TimestampCounter
	rx      Receiver
	disp    Dispatcher
	rst     ResetController
	ack     AckComposer
	writer  *LogWriter

	dispatch DispatchPort
	acks     AckPort

	metrics  *telemetry.Metrics
	logger   *slog.Logger
	observer func(Event)
	hz       int

	cycle   uint64
	inReset bool

	reset   atomic.Bool
	lines   atomic.Uint32
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records engine activity on the given instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithAckIdentifiers sets the acknowledgment packet constants.
func WithAckIdentifiers(ids AckIdentifiers) Option {
	return func(e *Engine) {
		e.ack.ids = ids
	}
}

// WithClockRate sets the cycles per second Run executes.
func WithClockRate(hz int) Option {
	return func(e *Engine) {
		e.hz = hz
	}
}

// WithObserver registers a callback invoked synchronously for every
// engine event, from the driving goroutine.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithCounter replaces the time base. Used by tests to start near the
// wraparound point.
func WithCounter(c *TimestampCounter) Option {
	return func(e *Engine) {
		e.counter = c
	}
}

// New creates an engine writing its log into q and talking to the agents
// and the packet bus through the given ports. Any argument may be nil: a
// nil queue drops records, a nil port never accepts.
func New(q *logfifo.FIFO, dispatch DispatchPort, acks AckPort, opts ...Option) *Engine {
	e := &Engine{
		counter:  NewTimestampCounter(),
		dispatch: dispatch,
		acks:     acks,
		hz:       DefaultClockRate,
	}
	e.ack.ids = DefaultAckIdentifiers

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = telemetry.Noop()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.writer = NewLogWriter(q, e.metrics)

	return e
}

// SetReset drives the primary hard reset input. While asserted every
// component is held in reset and the timestamp counter stays at zero.
// Thread-safe.
func (e *Engine) SetReset(asserted bool) {
	e.reset.Store(asserted)
}

// ResetLines returns the current reset outputs. Thread-safe.
func (e *Engine) ResetLines() ResetLines {
	v := e.lines.Load()
	return ResetLines{Datapath: v&1 != 0, Control: v&2 != 0}
}

// Timestamp returns the time base value of the next cycle.
func (e *Engine) Timestamp() uint64 { return e.counter.Value() }

// Cycle returns the number of cycles stepped since New.
func (e *Engine) Cycle() uint64 { return e.cycle }

// ReceiverState returns the receiver state.
func (e *Engine) ReceiverState() RxState { return e.rx.state }

// DispatcherState returns the dispatcher state.
func (e *Engine) DispatcherState() DispState { return e.disp.state }

// AckState returns the acknowledgment composer state.
func (e *Engine) AckState() AckState { return e.ack.state }

// Latched returns the long-lived fields of the last completed frames.
func (e *Engine) Latched() wire.Latched { return e.rx.latched }

// Busy reports the input flow control: true while a command is in flight.
func (e *Engine) Busy() bool { return e.rx.state != RxIdle }

func (e *Engine) sample() signals {
	return signals{
		rxState:      e.rx.state,
		start:        e.rx.start,
		frame:        e.rx.frame,
		latched:      e.rx.latched,
		done:         e.disp.done,
		dispState:    e.disp.state,
		completionTS: e.disp.completionTS,
		ackState:     e.ack.state,
	}
}

// Step advances the primary domain by one clock cycle with sym on the link.
func (e *Engine) Step(sym wire.Symbol) {
	primary := e.reset.Load()
	now := e.counter.Value()
	cur := e.sample()
	before := e.rst.lines

	if primary || !sym.Trained() {
		e.hardReset(now, primary, &cur)
	} else {
		e.inReset = false
		e.stepComponents(sym, now, &cur)
	}

	if e.rst.lines != before {
		e.emit(Event{Kind: EventResetLines, Time: now, Lines: e.rst.lines})
	}
	e.publishLines()
	e.counter.Tick(primary)
	e.cycle++
}

func (e *Engine) stepComponents(sym wire.Symbol, now uint64, cur *signals) {
	// Capture values the steps below clear once they are consumed.
	beat := e.ack.beat

	out, rec := e.rx.step(sym, now, cur)
	switch out {
	case rxLatched:
		op := e.rx.frame.Opcode
		e.metrics.CommandDecoded(op)
		e.logger.Debug("command latched", "opcode", op, "ts", now, "payload_len", e.rx.length)
		e.emit(Event{Kind: EventLatched, Time: now, Opcode: op})

	case rxSymbolError:
		op := cur.frame.Opcode
		if cur.rxState == RxIdle {
			op = wire.Opcode(sym.Data)
		}
		e.discard(now, op, telemetry.ReasonSymbolError)

	case rxUnknownOpcode:
		e.discard(now, e.rx.frame.Opcode, telemetry.ReasonUnknownOpcode)

	case rxLocal:
		e.logger.Debug("target address set", "address", e.rx.latched.TargetAddress)
		e.emit(Event{Kind: EventAddress, Time: now, Opcode: cur.frame.Opcode, Address: e.rx.latched.TargetAddress})

	case rxCompleted:
		if e.writer.Write(*rec) {
			e.logger.Debug("log record written", "opcode", rec.Opcode, "rx_ts", rec.ReceiveTS, "done_ts", rec.CompletionTS)
			e.emit(Event{Kind: EventLogWrite, Time: now, Opcode: rec.Opcode, Record: rec})
		} else {
			e.logger.Warn("log queue full, record dropped", "opcode", rec.Opcode, "rx_ts", rec.ReceiveTS)
			e.emit(Event{Kind: EventLogDropped, Time: now, Opcode: rec.Opcode, Record: rec})
		}
	}

	if e.disp.step(cur, now, e.dispatch) {
		op := e.disp.opcode
		e.metrics.DispatchCompleted(op, (now-e.disp.postedAt)&wire.TimestampMask)
		e.logger.Debug("dispatch accepted", "opcode", op, "signal", e.disp.signal, "ts", now)
		e.emit(Event{Kind: EventDispatched, Time: now, Opcode: op, Signal: e.disp.signal})
	}

	if e.ack.step(cur, e.acks) {
		e.metrics.AckSent(e.ack.opcode)
		e.logger.Debug("acknowledgment sent", "opcode", e.ack.opcode, "beat", beat)
		e.emit(Event{Kind: EventAck, Time: now, Opcode: e.ack.opcode, Beat: &beat})
	}

	e.rst.step(cur)
}

// hardReset aborts everything in flight. It overrides whatever the
// components would have computed this cycle.
func (e *Engine) hardReset(now uint64, primary bool, cur *signals) {
	if e.rx.midFrame() {
		e.discard(now, cur.frame.Opcode, telemetry.ReasonHardReset)
	}
	if !e.inReset {
		e.logger.Info("hard reset", "primary", primary, "ts", now)
		e.emit(Event{Kind: EventHardReset, Time: now, Reason: resetReason(primary)})
	}
	e.inReset = true

	if e.disp.valid {
		withdraw(e.dispatch)
	}
	if e.ack.valid {
		withdraw(e.acks)
	}
	e.rx.hardReset()
	e.disp.hardReset()
	e.ack.hardReset()
	e.rst.hardReset()
}

func resetReason(primary bool) string {
	if primary {
		return "primary"
	}
	return "loss_of_training"
}

func (e *Engine) discard(now uint64, op wire.Opcode, reason string) {
	e.metrics.CommandDiscarded(op, reason)
	e.logger.Debug("frame discarded", "opcode", op, "reason", reason, "ts", now)
	e.emit(Event{Kind: EventDiscarded, Time: now, Opcode: op, Reason: reason})
}

func (e *Engine) publishLines() {
	var v uint32
	if e.rst.lines.Datapath {
		v |= 1
	}
	if e.rst.lines.Control {
		v |= 2
	}
	e.lines.Store(v)
}

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.Cycle = e.cycle
	e.observer(ev)
}

// Run drives Step at the configured clock rate, pulling one symbol per
// cycle from link. Blocks until ctx is cancelled.
//
// CRITICAL: Must be called from exactly ONE goroutine; a concurrent second
// call returns an ALREADY_RUNNING error.
func (e *Engine) Run(ctx context.Context, link Link) error {
	if link == nil {
		return &RuntimeError{Code: ErrCodeNoLink, Message: "run requires a link"}
	}
	if e.hz <= 0 {
		return &RuntimeError{Code: ErrCodeInvalidRate, Message: "clock rate must be positive"}
	}
	if !e.running.CompareAndSwap(false, true) {
		return &RuntimeError{Code: ErrCodeAlreadyRunning, Message: "engine is already being driven"}
	}
	defer e.running.Store(false)

	// Pace in batches of ~1ms worth of cycles.
	batch := e.hz / 1000
	if batch < 1 {
		batch = 1
	}
	limiter := rate.NewLimiter(rate.Limit(e.hz), batch)

	e.logger.Info("engine starting", "hz", e.hz)

	for {
		if err := limiter.WaitN(ctx, batch); err != nil {
			// The limiter refuses waits that would outlive the deadline.
			<-ctx.Done()
			e.logger.Info("engine stopping: context cancelled", "cycles", e.cycle)
			return ctx.Err()
		}
		for i := 0; i < batch; i++ {
			sym, ok := link.Next()
			if !ok {
				sym = wire.IdleSymbol()
			}
			e.Step(sym)
		}
	}
}
