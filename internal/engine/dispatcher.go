package engine

import "github.com/roach88/runctl/internal/wire"

// DispState is the command dispatcher state.
type DispState uint8

const (
	DispIdle DispState = iota
	DispPosting
	DispSoftReset
)

func (s DispState) String() string {
	switch s {
	case DispIdle:
		return "Idle"
	case DispPosting:
		return "Posting"
	case DispSoftReset:
		return "SoftReset"
	}
	return "DispState(?)"
}

// Dispatcher turns the receiver's opcode into a dispatch signal, waits for
// the agents' aggregated ready, and records the completion time.
//
// Pre: start high and an opcode latched in the receiver.
// Post: exactly one accepted offer per start pulse, done held high until
// the receiver drops start, completionTS valid while done is high.
type Dispatcher struct {
	state        DispState
	valid        bool
	signal       wire.DispatchSignal
	opcode       wire.Opcode
	done         bool
	completionTS uint64
	postedAt     uint64
}

// step computes the dispatcher's next state. accepted reports the cycle
// in which the port took the signal.
func (d *Dispatcher) step(cur *signals, now uint64, port DispatchPort) (accepted bool) {
	switch d.state {
	case DispIdle:
		if cur.start {
			d.opcode = cur.frame.Opcode
			d.signal = wire.SignalFor(d.opcode.TargetState())
			d.valid = true
			d.postedAt = cur.frame.ReceiveTS
			d.state = DispPosting
		}

	case DispPosting:
		if d.valid {
			if port != nil && port.Offer(d.signal) {
				d.completionTS = now
				d.done = true
				d.valid = false
				return true
			}
			return false
		}
		if !cur.start {
			d.state = DispSoftReset
		}

	case DispSoftReset:
		d.completionTS = 0
		if !cur.start {
			d.done = false
			d.state = DispIdle
		}
	}
	return false
}

// hardReset forces Idle and drops done immediately.
func (d *Dispatcher) hardReset() {
	*d = Dispatcher{}
}
