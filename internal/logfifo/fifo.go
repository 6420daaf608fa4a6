// Package logfifo implements the transaction log queue shared by the primary
// and management clock domains.
//
// The queue is asymmetric: the write side accepts whole 128-bit records
// (four words), the read side hands out one 32-bit word at a time in the
// order the words were written. Each side has its own status flag (Full on
// the write side, Empty on the read side).
//
// Thread-safety: exactly one producer goroutine may call the write-side
// methods (Push, Full) and exactly one consumer goroutine may call the
// read-side methods (Empty, Front, Pop, Drain). The record channel is the
// only state shared between the two.
package logfifo

import (
	"sync/atomic"

	"github.com/roach88/runctl/internal/wire"
)

// DefaultDepth is the number of records the queue holds when no depth is
// configured.
const DefaultDepth = 32

// FIFO is a bounded single-producer/single-consumer record queue.
type FIFO struct {
	records chan [wire.RecordWords]uint32

	// Read side only.
	cur  [wire.RecordWords]uint32
	left int

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue holding up to depth records. depth <= 0 selects
// DefaultDepth.
func New(depth int) *FIFO {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &FIFO{records: make(chan [wire.RecordWords]uint32, depth)}
}

// Depth returns the record capacity of the write side.
func (q *FIFO) Depth() int {
	return cap(q.records)
}

// Full reports whether the write side would reject a record.
func (q *FIFO) Full() bool {
	return len(q.records) == cap(q.records)
}

// Push writes one record. It never blocks: a full queue drops the record
// and Push returns false.
func (q *FIFO) Push(words [wire.RecordWords]uint32) bool {
	select {
	case q.records <- words:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pushed returns the number of records accepted by the write side.
func (q *FIFO) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of records rejected because the queue was full.
func (q *FIFO) Dropped() uint64 {
	return q.dropped.Load()
}

// load moves the next record onto the read port if the current one is
// exhausted. Returns false if nothing is available.
func (q *FIFO) load() bool {
	if q.left > 0 {
		return true
	}
	select {
	case w := <-q.records:
		q.cur = w
		q.left = wire.RecordWords
		return true
	default:
		return false
	}
}

// Empty reports whether the read side has no word to offer.
func (q *FIFO) Empty() bool {
	return !q.load()
}

// Front returns the oldest unread word without consuming it.
func (q *FIFO) Front() (uint32, bool) {
	if !q.load() {
		return 0, false
	}
	return q.cur[wire.RecordWords-q.left], true
}

// Pop consumes and returns the oldest unread word. Popping an empty queue
// returns (0, false) and has no effect.
func (q *FIFO) Pop() (uint32, bool) {
	w, ok := q.Front()
	if !ok {
		return 0, false
	}
	q.left--
	return w, true
}

// Drain discards every word currently visible to the read side and returns
// how many were dropped.
func (q *FIFO) Drain() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}
