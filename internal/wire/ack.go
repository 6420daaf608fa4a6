package wire

import "fmt"

// AckBeatBits is the width of one acknowledgment beat.
const AckBeatBits = 36

// AckBeat is the single-beat packet sent upstream for RunPrepare and EndRun.
type AckBeat struct {
	Tag       uint8  // 4-bit packet type
	ID        uint8  // opcode-specific identifier byte
	RunNumber uint32 // low 24 bits carried, zero for EndRun
	SOP       bool
	EOP       bool
}

// Data packs the beat: tag[35:32] | id[31:24] | run[23:0].
func (b AckBeat) Data() uint64 {
	return uint64(b.Tag&0xF)<<32 | uint64(b.ID)<<24 | uint64(b.RunNumber&0xFFFFFF)
}

// RunBytes returns the three run-number bytes in transmission order.
func (b AckBeat) RunBytes() [3]byte {
	return [3]byte{byte(b.RunNumber >> 16), byte(b.RunNumber >> 8), byte(b.RunNumber)}
}

// ParseAckBeat splits a 36-bit beat back into its fields.
func ParseAckBeat(data uint64, sop, eop bool) AckBeat {
	return AckBeat{
		Tag:       uint8(data>>32) & 0xF,
		ID:        uint8(data >> 24),
		RunNumber: uint32(data & 0xFFFFFF),
		SOP:       sop,
		EOP:       eop,
	}
}

func (b AckBeat) String() string {
	return fmt.Sprintf("ack tag=%x id=0x%02x run=0x%06x", b.Tag, b.ID, b.RunNumber&0xFFFFFF)
}
