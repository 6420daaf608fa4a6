package engine

import (
	"sync"

	"github.com/roach88/runctl/internal/wire"
)

// SymbolQueue is a thread-safe FIFO of link symbols implementing Link.
//
// It sits between an external symbol producer (a network socket, a replay
// file, a test) and the engine's Run loop. The producer may enqueue from
// any goroutine; the engine takes at most one symbol per cycle and sees an
// idle cycle whenever the queue is empty.
//
// The queue is unbounded: the link itself has no backpressure, so the
// producer is never blocked.
type SymbolQueue struct {
	mu      sync.Mutex
	symbols []wire.Symbol
	closed  bool
	signal  chan struct{} // Signals symbol availability (buffered, size 1)
}

// NewSymbolQueue creates an empty symbol queue.
func NewSymbolQueue() *SymbolQueue {
	return &SymbolQueue{
		symbols: make([]wire.Symbol, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends symbols to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *SymbolQueue) Enqueue(syms ...wire.Symbol) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.symbols = append(q.symbols, syms...)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Next implements Link. It never blocks.
func (q *SymbolQueue) Next() (wire.Symbol, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.symbols) == 0 {
		return wire.Symbol{}, false
	}

	s := q.symbols[0]
	if len(q.symbols) == 1 {
		q.symbols = q.symbols[:0]
	} else {
		q.symbols = q.symbols[1:]
	}
	return s, true
}

// Wait returns a channel that signals when symbols may be available.
// The channel is closed once the queue is closed.
func (q *SymbolQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending symbols.
func (q *SymbolQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.symbols)
}

// Close rejects further symbols and wakes any waiter.
func (q *SymbolQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
