package engine

import "github.com/roach88/runctl/internal/wire"

// EventKind distinguishes observable engine events.
type EventKind string

const (
	EventLatched    EventKind = "latched"
	EventDiscarded  EventKind = "discarded"
	EventDispatched EventKind = "dispatched"
	EventLogWrite   EventKind = "log_write"
	EventLogDropped EventKind = "log_dropped"
	EventAck        EventKind = "ack"
	EventAddress    EventKind = "address"
	EventResetLines EventKind = "reset_lines"
	EventHardReset  EventKind = "hard_reset"
)

// Event describes something the engine did in a given cycle. Only the
// fields relevant to Kind are set.
type Event struct {
	Cycle   uint64
	Time    uint64
	Kind    EventKind
	Opcode  wire.Opcode
	Signal  wire.DispatchSignal
	Record  *wire.LogRecord
	Beat    *wire.AckBeat
	Address uint16
	Lines   ResetLines
	Reason  string
}
