package testutil

import "github.com/roach88/runctl/internal/wire"

// Command returns the link symbols for one command: the opcode followed by
// its payload bytes, all error-free data characters.
func Command(op wire.Opcode, payload ...byte) []wire.Symbol {
	syms := make([]wire.Symbol, 0, 1+len(payload))
	syms = append(syms, wire.DataSymbol(byte(op)))
	for _, b := range payload {
		syms = append(syms, wire.DataSymbol(b))
	}
	return syms
}

// Idle returns n comma characters.
func Idle(n int) []wire.Symbol {
	syms := make([]wire.Symbol, n)
	for i := range syms {
		syms[i] = wire.IdleSymbol()
	}
	return syms
}

// Faulty returns a data character carrying the given error flags.
func Faulty(b byte, flags wire.SymbolError) wire.Symbol {
	return wire.Symbol{Data: b, Err: flags}
}

// LostTraining returns n characters flagged with loss of link training.
func LostTraining(n int) []wire.Symbol {
	syms := make([]wire.Symbol, n)
	for i := range syms {
		syms[i] = wire.Symbol{Data: wire.CommaSymbol, Control: true, Err: wire.ErrLossOfTraining}
	}
	return syms
}

// Concat joins symbol scripts.
func Concat(parts ...[]wire.Symbol) []wire.Symbol {
	var out []wire.Symbol
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
