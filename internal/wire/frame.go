package wire

import "fmt"

// TimestampBits is the width of the free-running time base.
const TimestampBits = 48

// TimestampMask keeps a value inside the 48-bit time base.
const TimestampMask uint64 = 1<<TimestampBits - 1

// Control symbol used by the link while no command is in flight (K28.5).
const CommaSymbol = 0xBC

// SymbolError is the set of per-symbol error flags from the link receiver.
type SymbolError uint8

const (
	ErrLossOfTraining SymbolError = 1 << iota
	ErrParity
	ErrDecode
)

// Symbol is one 8b/10b-decoded link character.
type Symbol struct {
	Data    byte
	Control bool // K flag: comma/idle characters, never part of a frame
	Err     SymbolError
}

// DataSymbol builds an error-free data character.
func DataSymbol(b byte) Symbol { return Symbol{Data: b} }

// IdleSymbol builds the comma character the link sends between frames.
func IdleSymbol() Symbol { return Symbol{Data: CommaSymbol, Control: true} }

// Trained reports whether the link claims to be trained for this symbol.
func (s Symbol) Trained() bool { return s.Err&ErrLossOfTraining == 0 }

// Faulty reports a parity or decode error on the symbol.
func (s Symbol) Faulty() bool { return s.Err&(ErrParity|ErrDecode) != 0 }

func (s Symbol) String() string {
	kind := "D"
	if s.Control {
		kind = "K"
	}
	if s.Err != 0 {
		return fmt.Sprintf("%s%02x!%03b", kind, s.Data, uint8(s.Err))
	}
	return fmt.Sprintf("%s%02x", kind, s.Data)
}

// Latched holds the fields that survive soft resets. They are only cleared
// by a hard reset.
type Latched struct {
	RunNumber        uint32 `json:"run_number"`
	ResetAssertMask  uint16 `json:"reset_assert_mask"`
	ResetReleaseMask uint16 `json:"reset_release_mask"`
	TargetAddress    uint16 `json:"target_address"`
}

// Frame is the command currently being decoded.
type Frame struct {
	Opcode    Opcode
	ReceiveTS uint64
	Payload   [MaxPayload]byte
	Received  int
}

// Push stores the next payload byte. Slot 0 is filled first.
func (f *Frame) Push(b byte) {
	if f.Received < MaxPayload {
		f.Payload[f.Received] = b
	}
	f.Received++
}

// PayloadWord packs the payload slots big-endian (slot 0 in bits 31:24).
func (f *Frame) PayloadWord() uint32 {
	return uint32(f.Payload[0])<<24 | uint32(f.Payload[1])<<16 |
		uint32(f.Payload[2])<<8 | uint32(f.Payload[3])
}

// field16 assembles the first two payload bytes MSB first.
func (f *Frame) field16() uint16 {
	return uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
}

// LatchInto copies the opcode-specific long-lived field into l.
// Opcodes without a long-lived field leave l untouched.
func (f *Frame) LatchInto(l *Latched) {
	switch f.Opcode {
	case OpRunPrepare:
		l.RunNumber = f.PayloadWord()
	case OpReset:
		l.ResetAssertMask = f.field16()
	case OpStopReset:
		l.ResetReleaseMask = f.field16()
	case OpSetAddress:
		l.TargetAddress = f.field16()
	}
}

// Clear drops every transient field.
func (f *Frame) Clear() { *f = Frame{} }
