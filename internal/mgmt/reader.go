package mgmt

import (
	"log/slog"

	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/telemetry"
)

// FlushGuard is the only value that can be written to the log register
// without flushing the queue.
const FlushGuard uint32 = 0xFFFFFFFF

// ReaderState is the log reader state.
type ReaderState uint8

const (
	ReaderFlush ReaderState = iota
	ReaderIdle
	ReaderPopLog
	ReaderPostPop
)

func (s ReaderState) String() string {
	switch s {
	case ReaderFlush:
		return "Flush"
	case ReaderIdle:
		return "Idle"
	case ReaderPopLog:
		return "PopLog"
	case ReaderPostPop:
		return "PostPop"
	}
	return "ReaderState(?)"
}

// Request is one cycle of the register interface as driven by the host.
type Request struct {
	Read      bool
	Write     bool
	WriteData uint32
}

// Response carries read data back to the host. Valid is high for exactly
// one cycle per accepted read. Empty marks the zero sentinel.
type Response struct {
	Valid bool
	Data  uint32
	Empty bool
}

// Reader drains the log queue word by word on request.
type Reader struct {
	queue   *logfifo.FIFO
	metrics *telemetry.Metrics
	logger  *slog.Logger

	state   ReaderState
	empty   bool
	flushed int
}

// NewReader creates a reader in the Flush state, as after a management
// domain reset. m and logger may be nil.
func NewReader(q *logfifo.FIFO, m *telemetry.Metrics, logger *slog.Logger) *Reader {
	if m == nil {
		m = telemetry.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{queue: q, metrics: m, logger: logger, state: ReaderFlush}
}

// State returns the current reader state.
func (r *Reader) State() ReaderState { return r.state }

// Busy is the wait-request line: requests are only accepted in Idle.
func (r *Reader) Busy() bool { return r.state != ReaderIdle }

// Reset forces Flush, as a management domain reset does.
func (r *Reader) Reset() {
	r.state = ReaderFlush
	r.empty = false
	r.flushed = 0
}

// Step advances the reader by one management cycle. req is ignored unless
// the reader is Idle.
func (r *Reader) Step(req Request) Response {
	switch r.state {
	case ReaderFlush:
		if _, ok := r.queue.Pop(); ok {
			r.flushed++
			return Response{}
		}
		r.metrics.Flushed(r.flushed)
		if r.flushed > 0 {
			r.logger.Debug("log queue flushed", "words", r.flushed)
		}
		r.flushed = 0
		r.state = ReaderIdle

	case ReaderIdle:
		switch {
		case req.Read:
			r.empty = r.queue.Empty()
			r.state = ReaderPopLog
		case req.Write && req.WriteData != FlushGuard:
			r.logger.Debug("flush requested", "value", req.WriteData)
			r.state = ReaderFlush
		}

	case ReaderPopLog:
		var w uint32
		if !r.empty {
			w, _ = r.queue.Pop()
		}
		r.metrics.WordRead(r.empty)
		r.state = ReaderPostPop
		return Response{Valid: true, Data: w, Empty: r.empty}

	case ReaderPostPop:
		r.state = ReaderIdle
	}
	return Response{}
}
