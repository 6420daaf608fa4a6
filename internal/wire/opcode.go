package wire

import "fmt"

// Opcode is the 8-bit command identifier that starts every frame.
type Opcode uint8

const (
	OpRunPrepare Opcode = 0x10
	OpRunSync    Opcode = 0x11
	OpStartRun   Opcode = 0x12
	OpEndRun     Opcode = 0x13
	OpAbortRun   Opcode = 0x14
	OpReset      Opcode = 0x20
	OpStopReset  Opcode = 0x21
	OpEnable     Opcode = 0x30
	OpDisable    Opcode = 0x31
	OpSetAddress Opcode = 0x40
)

// InvalidLength is the payload length reported for opcodes outside the table.
const InvalidLength = -1

// MaxPayload is the largest payload any opcode carries.
const MaxPayload = 4

type opcodeInfo struct {
	name     string
	length   int
	dispatch bool
	state    AgentState
}

// opcodeTable is the static opcode -> payload length / dispatch effect table.
var opcodeTable = map[Opcode]opcodeInfo{
	OpRunPrepare: {"RunPrepare", 4, true, AgentIdle},
	OpRunSync:    {"RunSync", 0, true, AgentSync},
	OpStartRun:   {"StartRun", 0, true, AgentRunning},
	OpEndRun:     {"EndRun", 0, true, AgentEnded},
	OpAbortRun:   {"AbortRun", 0, true, AgentIdle},
	OpReset:      {"Reset", 2, true, AgentReset},
	OpStopReset:  {"StopReset", 2, true, AgentIdle},
	OpEnable:     {"Enable", 0, true, AgentIdle},
	OpDisable:    {"Disable", 0, true, AgentOutOfService},
	OpSetAddress: {"SetAddress", 2, false, AgentIdle},
}

// Opcodes lists every defined opcode in table order.
var Opcodes = []Opcode{
	OpRunPrepare, OpRunSync, OpStartRun, OpEndRun, OpAbortRun,
	OpReset, OpStopReset, OpEnable, OpDisable, OpSetAddress,
}

// Known reports whether the opcode is in the command table.
func (o Opcode) Known() bool {
	_, ok := opcodeTable[o]
	return ok
}

// PayloadLength returns the number of payload bytes that follow the opcode,
// or InvalidLength for opcodes outside the table.
func (o Opcode) PayloadLength() int {
	info, ok := opcodeTable[o]
	if !ok {
		return InvalidLength
	}
	return info.length
}

// Dispatched reports whether the opcode is handed to the downstream agents.
// SetAddress is purely local and returns false. Unknown opcodes are
// discarded by the receiver and never dispatched.
func (o Opcode) Dispatched() bool {
	return opcodeTable[o].dispatch
}

// TargetState returns the agent state the opcode drives the agents into.
// Opcodes outside the table fall back to AgentIdle, the signal a dispatch
// of an undecodable command would carry.
func (o Opcode) TargetState() AgentState {
	info, ok := opcodeTable[o]
	if !ok {
		return AgentIdle
	}
	return info.state
}

// Acknowledged reports whether a completed command is reported upstream.
func (o Opcode) Acknowledged() bool {
	return o == OpRunPrepare || o == OpEndRun
}

func (o Opcode) String() string {
	if info, ok := opcodeTable[o]; ok {
		return info.name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(o))
}

// ParseOpcode resolves an opcode by its table name.
func ParseOpcode(name string) (Opcode, error) {
	for _, op := range Opcodes {
		if opcodeTable[op].name == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown opcode name %q", name)
}
