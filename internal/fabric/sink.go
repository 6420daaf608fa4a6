package fabric

import (
	"sync"

	"github.com/roach88/runctl/internal/wire"
)

// PacketSink is the packet bus end consuming acknowledgment beats. It
// stalls each packet for a fixed number of offers before accepting it.
type PacketSink struct {
	mu      sync.Mutex
	stall   int
	waited  int
	packets []wire.AckBeat
}

// NewPacketSink creates a sink that holds ready low for stall offers.
func NewPacketSink(stall int) *PacketSink {
	if stall < 0 {
		stall = 0
	}
	return &PacketSink{stall: stall}
}

// Offer implements engine.AckPort.
func (s *PacketSink) Offer(beat wire.AckBeat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waited < s.stall {
		s.waited++
		return false
	}
	s.waited = 0
	s.packets = append(s.packets, beat)
	return true
}

// Withdraw implements engine.Withdrawer.
func (s *PacketSink) Withdraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waited = 0
}

// Packets returns every accepted beat in arrival order.
func (s *PacketSink) Packets() []wire.AckBeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.AckBeat(nil), s.packets...)
}
