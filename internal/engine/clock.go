package engine

import "github.com/roach88/runctl/internal/wire"

// TimestampCounter is the free-running 48-bit time base shared by receive
// and completion timestamps.
//
// The counter is never cleared by soft resets or by loss of link training,
// so timestamps stay comparable across run boundaries. It wraps silently at
// 2^48.
type TimestampCounter struct {
	value uint64
}

// NewTimestampCounter creates a counter starting at 0.
func NewTimestampCounter() *TimestampCounter {
	return &TimestampCounter{}
}

// NewTimestampCounterAt creates a counter starting at a specific value.
// Used by tests to exercise wraparound.
func NewTimestampCounterAt(start uint64) *TimestampCounter {
	return &TimestampCounter{value: start & wire.TimestampMask}
}

// Value returns the timestamp of the current cycle.
func (c *TimestampCounter) Value() uint64 {
	return c.value
}

// Tick advances the counter by one cycle. A primary reset clears it instead.
func (c *TimestampCounter) Tick(primaryReset bool) {
	if primaryReset {
		c.value = 0
		return
	}
	c.value = (c.value + 1) & wire.TimestampMask
}
