// Package mgmt implements the management clock domain: the log reader
// state machine and the register port used to drain the transaction log.
//
// The management domain runs at its own rate, independent of the primary
// domain. The only state it shares with the engine is the log queue.
//
// Reader states:
//
//	Flush -> Idle -> PopLog -> PostPop -> Idle
//
// The reader comes out of reset in Flush and discards whatever the queue
// still holds from before the reset, since the primary domain is not reset
// by the same signal. A write of any value other than FlushGuard on the
// log register re-enters Flush. A read pops one word; four reads return
// one record, oldest first. A read of an empty queue returns zero.
//
// Reader.Step is the cycle-level model, used directly by the test harness.
// Domain wraps it in a rate-paced goroutine and Port offers blocking
// register accesses on top of that.
package mgmt
