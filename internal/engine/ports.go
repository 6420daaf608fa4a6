package engine

import "github.com/roach88/runctl/internal/wire"

// Link delivers one symbol per primary cycle from the physical link
// receiver. ok=false means no character arrived this cycle; the engine then
// behaves as if an idle comma was received.
//
// The link is never back-pressured: Next is called once per cycle whatever
// the engine is doing.
type Link interface {
	Next() (sym wire.Symbol, ok bool)
}

// DispatchPort is the valid/ready stream towards the agents. Offer is
// called once per cycle while the dispatcher holds valid; it returns true
// in the cycle the aggregated ready line accepts the signal.
type DispatchPort interface {
	Offer(sig wire.DispatchSignal) bool
}

// AckPort is the valid/ready stream towards the packet bus. Offer is
// called once per cycle while the composer holds valid; it returns true in
// the cycle the beat is accepted.
type AckPort interface {
	Offer(beat wire.AckBeat) bool
}

// Withdrawer is implemented by ports that track an offer across cycles.
// The engine calls Withdraw when a hard reset drops valid before the port
// accepted, so the next offer starts from scratch.
type Withdrawer interface {
	Withdraw()
}

func withdraw(port any) {
	if w, ok := port.(Withdrawer); ok {
		w.Withdraw()
	}
}

// DispatchFunc adapts a function to DispatchPort.
type DispatchFunc func(sig wire.DispatchSignal) bool

// Offer implements DispatchPort.
func (f DispatchFunc) Offer(sig wire.DispatchSignal) bool { return f(sig) }

// AckFunc adapts a function to AckPort.
type AckFunc func(beat wire.AckBeat) bool

// Offer implements AckPort.
func (f AckFunc) Offer(beat wire.AckBeat) bool { return f(beat) }
