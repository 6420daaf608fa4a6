package wire

import "fmt"

// RecordWords is the number of 32-bit words in one log record.
const RecordWords = 4

// LogRecord is one completed transaction as seen by the log writer.
// CompletionTS keeps the full 48 bits in memory; only bits 31:0 survive
// packing.
type LogRecord struct {
	ReceiveTS    uint64 `json:"receive_ts"`
	Opcode       Opcode `json:"opcode"`
	Payload      uint32 `json:"payload"`
	CompletionTS uint64 `json:"completion_ts"`
}

// Words packs the record into its queue representation.
func (r LogRecord) Words() [RecordWords]uint32 {
	ts := r.ReceiveTS & TimestampMask
	return [RecordWords]uint32{
		uint32(ts >> 16),
		uint32(ts&0xFFFF)<<16 | uint32(r.Opcode),
		r.Payload,
		uint32(r.CompletionTS),
	}
}

// UnpackRecord rebuilds a record from the four words read back from the
// queue. The completion timestamp comes back truncated to 32 bits.
func UnpackRecord(w [RecordWords]uint32) LogRecord {
	return LogRecord{
		ReceiveTS:    uint64(w[0])<<16 | uint64(w[1]>>16),
		Opcode:       Opcode(w[1] & 0xFF),
		Payload:      w[2],
		CompletionTS: uint64(w[3]),
	}
}

// Empty reports whether the words are the all-zero sentinel the reader
// returns for an empty queue.
func Empty(w [RecordWords]uint32) bool {
	return w == [RecordWords]uint32{}
}

// Latency returns completion minus receive time, computed in the 32-bit
// window the packed record preserves.
func (r LogRecord) Latency() uint32 {
	return uint32(r.CompletionTS) - uint32(r.ReceiveTS)
}

func (r LogRecord) String() string {
	return fmt.Sprintf("%s rx=%d payload=0x%08x done=%d", r.Opcode, r.ReceiveTS, r.Payload, r.CompletionTS)
}
