// Package wire defines the run-control command vocabulary and the fixed
// binary formats that cross component boundaries.
//
// Everything inside the engine works on typed values (Opcode, Frame,
// LogRecord, AckBeat). Bit packing happens only at the edges:
//
//   - LogRecord.Words / UnpackRecord: the 4x32-bit log queue format
//   - AckBeat.Data: the 36-bit upstream acknowledgment beat
//   - DispatchSignal: the 9-bit one-hot agent state vector
//
// # Log record layout
//
//	word0 = receive_ts[47:16]
//	word1 = receive_ts[15:0] << 16 | reserved << 8 | opcode
//	word2 = payload slots, slot 0 in bits 31:24
//	word3 = completion_ts[31:0]
package wire
