package engine

import "github.com/roach88/runctl/internal/wire"

// ResetLines are the two global reset outputs. true means asserted.
type ResetLines struct {
	Datapath bool `json:"datapath" yaml:"datapath"`
	Control  bool `json:"control" yaml:"control"`
}

// ResetController derives the reset lines from the receiver's latched
// opcode: Reset asserts both, StopReset releases both, anything else holds.
//
// The assert/release masks carried by the payload are reserved; both lines
// always move together.
type ResetController struct {
	lines ResetLines
}

func (c *ResetController) step(cur *signals) {
	switch cur.frame.Opcode {
	case wire.OpReset:
		c.lines = ResetLines{Datapath: true, Control: true}
	case wire.OpStopReset:
		c.lines = ResetLines{}
	}
}

// hardReset releases both lines.
func (c *ResetController) hardReset() {
	c.lines = ResetLines{}
}
