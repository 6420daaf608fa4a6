// Package engine implements the primary clock domain of the run-control
// command engine.
//
// The engine receives link symbols from the timing source, decodes them
// into commands, dispatches each command to the downstream agents, waits for
// their collective acknowledgment, optionally sends an acknowledgment packet
// upstream, drives the global reset lines and logs every completed
// transaction into the cross-domain log queue.
//
// ARCHITECTURE:
//
// Cycle-stepped state machines:
// Every component (TimestampCounter, Receiver, Dispatcher, ResetController,
// AckComposer) is an owned struct inside Engine. Engine.Step advances all of
// them by one clock cycle:
//  1. sample() copies every registered output into a signals snapshot
//  2. each component computes its next state from the snapshot only
//  3. side effects (log write, port offers) happen during step
//  4. the counter ticks
//
// Because components only read the snapshot, the order in which they are
// stepped does not matter, and a signal raised in cycle N is observed by
// its siblings in cycle N+1.
//
// Single-Writer:
// Step (and Run, which calls it) must be driven from exactly one goroutine.
// The only state shared with other goroutines is the log queue, the symbol
// queue feeding the link, the hard reset input and the published reset
// lines.
//
// One command in flight:
// Receiver and Dispatcher use a start/done handshake. The receiver keeps
// the input flow control busy until the dispatcher has dropped done and the
// acknowledgment composer is idle again, so commands never overlap.
//
// Hard reset:
// A primary reset (SetReset) or a symbol flagged with loss of link training
// aborts everything in the same cycle. Nothing computed in that cycle is
// kept: no log write, no dispatch, no acknowledgment. The timestamp counter
// is only cleared by the primary reset.
package engine
