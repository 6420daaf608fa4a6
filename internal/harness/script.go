package harness

import (
	"fmt"

	"github.com/roach88/runctl/internal/testutil"
	"github.com/roach88/runctl/internal/wire"
)

// Script flattens the scenario's link steps into the symbol sequence a
// free-running engine consumes. Without the cycle-stepped harness there is
// no way to wait for the engine, so settle becomes settleGap commas.
// Steps that act outside the link (resets, register writes) are rejected.
func Script(scenario *Scenario, settleGap int) ([]wire.Symbol, error) {
	var syms []wire.Symbol
	for i, st := range scenario.Steps {
		switch {
		case st.Command != "":
			op, err := wire.ParseOpcode(st.Command)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			syms = append(syms, testutil.Command(op, toBytes(st.Payload)...)...)
		case len(st.Raw) > 0:
			for _, b := range st.Raw {
				syms = append(syms, wire.DataSymbol(byte(b)))
			}
		case st.Idle > 0:
			syms = append(syms, testutil.Idle(st.Idle)...)
		case st.Settle:
			syms = append(syms, testutil.Idle(settleGap)...)
		case st.Error != nil:
			var flags wire.SymbolError
			for _, f := range st.Error.Flags {
				flags |= symbolErrorFlags[f]
			}
			syms = append(syms, testutil.Faulty(byte(st.Error.Data), flags))
		case st.LoseTraining > 0:
			syms = append(syms, testutil.LostTraining(st.LoseTraining)...)
		case st.HardReset > 0:
			return nil, fmt.Errorf("step %d: hard_reset cannot be scripted on the link", i)
		case st.MgmtReset, st.MgmtWrite != nil:
			return nil, fmt.Errorf("step %d: management steps cannot be scripted on the link", i)
		}
	}
	return syms, nil
}

func toBytes(vals []int) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}
	return out
}
