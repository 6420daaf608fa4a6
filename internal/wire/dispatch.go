package wire

import (
	"fmt"
	"math/bits"
)

// AgentState is the run-lifecycle state a dispatch drives the agents into.
type AgentState uint8

const (
	AgentIdle AgentState = iota
	AgentSync
	AgentRunning
	AgentEnded
	AgentReset
	AgentOutOfService
)

var agentStateNames = [...]string{"Idle", "Sync", "Running", "Ended", "Reset", "OutOfService"}

func (s AgentState) String() string {
	if int(s) < len(agentStateNames) {
		return agentStateNames[s]
	}
	return fmt.Sprintf("AgentState(%d)", uint8(s))
}

// DispatchSignal is the 9-bit one-hot vector posted to the agents.
// Bits 6-8 are reserved and always zero.
type DispatchSignal uint16

// DispatchMask covers the 9 signal bits.
const DispatchMask DispatchSignal = 0x1FF

// SignalFor encodes an agent state as a dispatch signal.
func SignalFor(s AgentState) DispatchSignal {
	return DispatchSignal(1<<s) & DispatchMask
}

// State decodes the signal. ok is false unless exactly one defined bit is set.
func (d DispatchSignal) State() (AgentState, bool) {
	d &= DispatchMask
	if bits.OnesCount16(uint16(d)) != 1 {
		return 0, false
	}
	s := AgentState(bits.TrailingZeros16(uint16(d)))
	if s > AgentOutOfService {
		return 0, false
	}
	return s, true
}

func (d DispatchSignal) String() string {
	if s, ok := d.State(); ok {
		return s.String()
	}
	return fmt.Sprintf("DispatchSignal(0x%03x)", uint16(d))
}
