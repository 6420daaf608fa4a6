package engine

import "github.com/roach88/runctl/internal/wire"

// AckState is the acknowledgment composer state.
type AckState uint8

const (
	AckIdle AckState = iota
	AckUpload
	AckSoftReset
)

func (s AckState) String() string {
	switch s {
	case AckIdle:
		return "Idle"
	case AckUpload:
		return "Upload"
	case AckSoftReset:
		return "SoftReset"
	}
	return "AckState(?)"
}

// AckIdentifiers are the build-time constants placed in acknowledgment
// packets.
type AckIdentifiers struct {
	TypeTag      uint8
	RunPrepareID uint8
	EndRunID     uint8
}

// DefaultAckIdentifiers match the stock firmware build.
var DefaultAckIdentifiers = AckIdentifiers{TypeTag: 0x4, RunPrepareID: 0xFE, EndRunID: 0xFD}

// AckComposer sends one single-beat packet upstream for every completed
// RunPrepare or EndRun. It only observes the dispatcher's done line.
type AckComposer struct {
	ids    AckIdentifiers
	state  AckState
	valid  bool
	beat   wire.AckBeat
	opcode wire.Opcode
}

// step computes the composer's next state. sent reports the cycle in which
// the port accepted the beat.
func (a *AckComposer) step(cur *signals, port AckPort) (sent bool) {
	switch a.state {
	case AckIdle:
		op := cur.frame.Opcode
		if cur.done && cur.rxState == RxLogging && op.Acknowledged() {
			a.opcode = op
			a.beat = a.compose(op, cur.latched.RunNumber)
			a.valid = true
			a.state = AckUpload
		}

	case AckUpload:
		if port != nil && port.Offer(a.beat) {
			a.valid = false
			a.beat = wire.AckBeat{}
			a.state = AckSoftReset
			return true
		}

	case AckSoftReset:
		if !cur.done {
			a.state = AckIdle
		}
	}
	return false
}

func (a *AckComposer) compose(op wire.Opcode, run uint32) wire.AckBeat {
	beat := wire.AckBeat{Tag: a.ids.TypeTag, SOP: true, EOP: true}
	switch op {
	case wire.OpRunPrepare:
		beat.ID = a.ids.RunPrepareID
		beat.RunNumber = run & 0xFFFFFF
	case wire.OpEndRun:
		beat.ID = a.ids.EndRunID
	}
	return beat
}

func (a *AckComposer) hardReset() {
	a.state = AckIdle
	a.valid = false
	a.beat = wire.AckBeat{}
	a.opcode = 0
}
