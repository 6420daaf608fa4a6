package mgmt

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/wire"
)

// DefaultClockRate is the management domain rate used when none is
// configured.
const DefaultClockRate = 100_000

// access states. The domain moves an access from pending to accepted when
// the reader takes it; the caller moves it from pending to cancelled when it
// gives up first. Whichever happens first wins.
const (
	accessPending int32 = iota
	accessAccepted
	accessCancelled
)

// access is one register transaction waiting for the domain goroutine. A
// read access performs reads consecutive reads and replies once.
type access struct {
	req   Request
	reads int
	state atomic.Int32
	res   result
	reply chan result
}

// result is what an access returns to the caller.
type result struct {
	words [wire.RecordWords]uint32
	n     int
	empty bool // the last read found the log empty
	err   error
}

func (a *access) accept() bool {
	return a.state.Load() == accessAccepted || a.state.CompareAndSwap(accessPending, accessAccepted)
}

// Domain runs a Reader in its own goroutine at its own clock rate.
//
// Thread-safety model:
//   - Run(): single driving goroutine
//   - Reset(), Port methods: safe from any goroutine
type Domain struct {
	reader *Reader
	logger *slog.Logger
	hz     int

	calls   chan *access
	pending *access
	cycle   uint64

	reset   atomic.Bool
	running atomic.Bool
}

// Option configures a Domain.
type Option func(*domainConfig)

type domainConfig struct {
	metrics *telemetry.Metrics
	logger  *slog.Logger
	hz      int
}

// WithMetrics records reader activity on the given instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *domainConfig) { c.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *domainConfig) { c.logger = l }
}

// WithClockRate sets the management cycles per second.
func WithClockRate(hz int) Option {
	return func(c *domainConfig) { c.hz = hz }
}

// NewDomain creates a management domain reading from q.
func NewDomain(q *logfifo.FIFO, opts ...Option) *Domain {
	cfg := domainConfig{hz: DefaultClockRate}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Domain{
		reader: NewReader(q, cfg.metrics, cfg.logger),
		logger: cfg.logger,
		hz:     cfg.hz,
		calls:  make(chan *access),
	}
}

// Port returns the register interface of this domain.
func (d *Domain) Port() *Port { return &Port{d: d} }

// Reset requests a management domain reset. The reader flushes the queue
// on the next cycle. Thread-safe.
func (d *Domain) Reset() { d.reset.Store(true) }

// step advances the domain by one cycle.
func (d *Domain) step() {
	if d.reset.Swap(false) {
		d.reader.Reset()
		if d.pending != nil && d.pending.state.Load() == accessAccepted {
			d.finish(&PortError{Code: ErrCodePartialRecord, Message: "management domain reset during access"})
		}
	}

	if d.pending == nil {
		select {
		case a := <-d.calls:
			d.pending = a
		default:
		}
	}

	var req Request
	if d.pending != nil && !d.reader.Busy() {
		if d.pending.accept() {
			req = d.pending.req
		} else {
			d.pending = nil
		}
	}

	resp := d.reader.Step(req)
	d.cycle++

	a := d.pending
	switch {
	case a == nil:
	case req.Write:
		d.finish(nil)
	case resp.Valid:
		a.res.words[a.res.n] = resp.Data
		a.res.n++
		a.res.empty = resp.Empty
		if resp.Empty || a.res.n == a.reads {
			d.finish(nil)
		}
	}
}

// finish replies to the pending access.
func (d *Domain) finish(err error) {
	a := d.pending
	d.pending = nil
	a.res.err = err
	a.reply <- a.res
}

// Run steps the reader at the configured rate until ctx is cancelled.
func (d *Domain) Run(ctx context.Context) error {
	if d.hz <= 0 {
		return &PortError{Code: ErrCodeInvalidRate, Message: "clock rate must be positive"}
	}
	if !d.running.CompareAndSwap(false, true) {
		return &PortError{Code: ErrCodeAlreadyRunning, Message: "domain is already being driven"}
	}
	defer d.running.Store(false)

	batch := d.hz / 1000
	if batch < 1 {
		batch = 1
	}
	limiter := rate.NewLimiter(rate.Limit(d.hz), batch)

	d.logger.Info("management domain starting", "hz", d.hz)

	for {
		if err := limiter.WaitN(ctx, batch); err != nil {
			<-ctx.Done()
			if d.pending != nil {
				d.finish(&PortError{Code: ErrCodeNotRunning, Message: "management domain stopped during access"})
			}
			d.logger.Info("management domain stopping", "cycles", d.cycle)
			return ctx.Err()
		}
		for i := 0; i < batch; i++ {
			d.step()
		}
	}
}

// Port is the blocking register interface of a running Domain. Each call
// holds the request until the reader accepts it. Cancelling the context
// withdraws an access the reader has not accepted yet; an accepted access
// always runs to completion, so no word is popped without being returned.
type Port struct {
	d *Domain
}

func (p *Port) do(ctx context.Context, req Request, reads int) (result, error) {
	if !p.d.running.Load() {
		return result{}, &PortError{Code: ErrCodeNotRunning, Message: "management domain is not running"}
	}
	a := &access{req: req, reads: reads, reply: make(chan result, 1)}
	select {
	case p.d.calls <- a:
	case <-ctx.Done():
		return result{}, &PortError{Code: ErrCodeCancelled, Message: "register access not accepted", Err: ctx.Err()}
	}
	select {
	case r := <-a.reply:
		return r, r.err
	case <-ctx.Done():
	}
	if a.state.CompareAndSwap(accessPending, accessCancelled) {
		return result{}, &PortError{Code: ErrCodeCancelled, Message: "register access withdrawn", Err: ctx.Err()}
	}
	r := <-a.reply
	return r, r.err
}

// ReadWord pops one word from the log. An empty log reads as zero.
func (p *Port) ReadWord(ctx context.Context) (uint32, error) {
	r, err := p.do(ctx, Request{Read: true}, 1)
	if err != nil {
		return 0, err
	}
	return r.words[0], nil
}

// WriteWord writes the log register. Any value other than FlushGuard
// flushes the queue.
func (p *Port) WriteWord(ctx context.Context, v uint32) error {
	_, err := p.do(ctx, Request{Write: true, WriteData: v}, 0)
	return err
}

// ReadRecord performs the four reads that return one record as a single
// access. It returns an EMPTY PortError if the log had nothing to offer at
// the first read, and a PARTIAL_RECORD PortError if it ran dry after that.
// In the latter case the words read are discarded and the next record read
// starts on a record boundary again.
func (p *Port) ReadRecord(ctx context.Context) (wire.LogRecord, error) {
	r, err := p.do(ctx, Request{Read: true}, wire.RecordWords)
	if err != nil {
		return wire.LogRecord{}, err
	}
	if r.empty {
		if r.n == 1 {
			return wire.LogRecord{}, &PortError{Code: ErrCodeEmpty, Message: "log is empty"}
		}
		return wire.LogRecord{}, &PortError{
			Code:    ErrCodePartialRecord,
			Message: fmt.Sprintf("log ran empty after %d of %d words", r.n-1, wire.RecordWords),
		}
	}
	return wire.UnpackRecord(r.words), nil
}

// Drain reads records until the log is empty.
func (p *Port) Drain(ctx context.Context) ([]wire.LogRecord, error) {
	var out []wire.LogRecord
	for {
		rec, err := p.ReadRecord(ctx)
		if IsEmpty(err) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
