package engine

import (
	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/wire"
)

// LogWriter packs completed transactions and pushes them into the log
// queue. It is the only producer of the queue.
type LogWriter struct {
	queue   *logfifo.FIFO
	metrics *telemetry.Metrics
}

// NewLogWriter creates a writer for the given queue.
func NewLogWriter(q *logfifo.FIFO, m *telemetry.Metrics) *LogWriter {
	if m == nil {
		m = telemetry.Noop()
	}
	return &LogWriter{queue: q, metrics: m}
}

// Write issues one queue write for the record. Returns false if the queue
// was full and the record was lost.
func (w *LogWriter) Write(rec wire.LogRecord) bool {
	if w.queue == nil {
		return false
	}
	ok := w.queue.Push(rec.Words())
	w.metrics.LogWritten(rec.Opcode, ok)
	return ok
}
