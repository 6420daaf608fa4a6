package engine

import "github.com/roach88/runctl/internal/wire"

// RxState is the command receiver state.
type RxState uint8

const (
	RxIdle RxState = iota
	RxRecvPayload
	RxLogging
	RxLogError
	RxSoftReset
)

func (s RxState) String() string {
	switch s {
	case RxIdle:
		return "Idle"
	case RxRecvPayload:
		return "RecvPayload"
	case RxLogging:
		return "Logging"
	case RxLogError:
		return "LogError"
	case RxSoftReset:
		return "SoftReset"
	}
	return "RxState(?)"
}

// rxOutcome reports what the receiver did in one cycle.
type rxOutcome uint8

const (
	rxNothing rxOutcome = iota
	rxLatched           // opcode latched, frame open
	rxSymbolError       // frame discarded on a symbol error
	rxUnknownOpcode     // frame discarded, opcode not in the table
	rxCompleted         // dispatched command finished, record emitted
	rxLocal             // SetAddress applied, nothing emitted
)

// Receiver parses the symbol stream into frames and drives the start/done
// handshake with the Dispatcher.
//
// Invariants:
//   - start is only high in RxLogging
//   - frame is cleared in RxSoftReset; latched survives until hard reset
//   - a record is produced at most once per frame, on Logging -> SoftReset
type Receiver struct {
	state   RxState
	frame   wire.Frame
	latched wire.Latched
	length  int
	start   bool
}

// step computes the receiver's next state. record is non-nil only when the
// frame completed its dispatch this cycle.
func (r *Receiver) step(sym wire.Symbol, now uint64, cur *signals) (out rxOutcome, record *wire.LogRecord) {
	switch r.state {
	case RxIdle:
		if !sym.Trained() || sym.Control {
			return rxNothing, nil
		}
		if sym.Faulty() {
			r.state = RxLogError
			return rxSymbolError, nil
		}

		op := wire.Opcode(sym.Data)
		r.frame = wire.Frame{Opcode: op, ReceiveTS: now}
		r.length = op.PayloadLength()
		switch {
		case r.length == wire.InvalidLength:
			r.state = RxLogError
			return rxUnknownOpcode, nil
		case r.length == 0:
			r.state = RxLogging
		default:
			r.state = RxRecvPayload
		}
		return rxLatched, nil

	case RxRecvPayload:
		if sym.Faulty() || !sym.Trained() {
			r.state = RxLogError
			return rxSymbolError, nil
		}
		if sym.Control {
			return rxNothing, nil
		}
		r.frame.Push(sym.Data)
		if r.frame.Received == r.length {
			r.frame.LatchInto(&r.latched)
			r.state = RxLogging
		}
		return rxNothing, nil

	case RxLogging:
		if !r.frame.Opcode.Dispatched() {
			r.state = RxSoftReset
			return rxLocal, nil
		}
		if r.start && cur.done {
			r.start = false
			r.state = RxSoftReset
			return rxCompleted, &wire.LogRecord{
				ReceiveTS:    r.frame.ReceiveTS,
				Opcode:       r.frame.Opcode,
				Payload:      r.frame.PayloadWord(),
				CompletionTS: cur.completionTS,
			}
		}
		r.start = true
		return rxNothing, nil

	case RxLogError:
		r.state = RxSoftReset
		return rxNothing, nil

	case RxSoftReset:
		r.start = false
		r.frame.Clear()
		r.length = 0
		if !cur.done && cur.dispState == DispIdle && cur.ackState == AckIdle {
			r.state = RxIdle
		}
		return rxNothing, nil
	}
	return rxNothing, nil
}

// hardReset forces SoftReset and clears the long-lived fields as well.
func (r *Receiver) hardReset() {
	r.state = RxSoftReset
	r.start = false
	r.frame.Clear()
	r.length = 0
	r.latched = wire.Latched{}
}

// midFrame reports whether a frame has been latched but not yet finished.
func (r *Receiver) midFrame() bool {
	return r.state == RxRecvPayload || r.state == RxLogging
}
