package engine

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/telemetry/telemetrytest"
	"github.com/roach88/runctl/internal/testutil"
	"github.com/roach88/runctl/internal/wire"
)

// rig wires an engine to recording ports. Both ports accept whenever the
// corresponding ready func returns true (always, by default).
type rig struct {
	t          *testing.T
	e          *Engine
	q          *logfifo.FIFO
	events     []Event
	dispatched []wire.DispatchSignal
	acks       []wire.AckBeat

	dispatchReady func() bool
	ackReady      func() bool
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		t:             t,
		q:             logfifo.New(logfifo.DefaultDepth),
		dispatchReady: func() bool { return true },
		ackReady:      func() bool { return true },
	}
	dispatch := DispatchFunc(func(sig wire.DispatchSignal) bool {
		if !r.dispatchReady() {
			return false
		}
		r.dispatched = append(r.dispatched, sig)
		return true
	})
	acks := AckFunc(func(beat wire.AckBeat) bool {
		if !r.ackReady() {
			return false
		}
		r.acks = append(r.acks, beat)
		return true
	})
	opts = append([]Option{WithObserver(func(ev Event) { r.events = append(r.events, ev) })}, opts...)
	r.e = New(r.q, dispatch, acks, opts...)
	return r
}

func (r *rig) feed(syms ...wire.Symbol) {
	for _, s := range syms {
		r.e.Step(s)
	}
}

// settle steps idle cycles until the receiver accepts a new command.
func (r *rig) settle() {
	r.t.Helper()
	for i := 0; i < 1000; i++ {
		r.e.Step(wire.IdleSymbol())
		if !r.e.Busy() {
			return
		}
	}
	r.t.Fatalf("engine still busy after 1000 idle cycles (rx=%s)", r.e.ReceiverState())
}

// run feeds one command and waits for the engine to be idle again.
func (r *rig) run(syms ...wire.Symbol) {
	r.t.Helper()
	r.feed(syms...)
	r.settle()
}

// records pops every complete record from the log queue.
func (r *rig) records() []wire.LogRecord {
	var out []wire.LogRecord
	for !r.q.Empty() {
		var w [wire.RecordWords]uint32
		for i := range w {
			v, ok := r.q.Pop()
			require.True(r.t, ok, "record truncated at word %d", i)
			w[i] = v
		}
		out = append(out, wire.UnpackRecord(w))
	}
	return out
}

func (r *rig) eventsOf(kind EventKind) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// payloadFor returns n distinct payload bytes.
func payloadFor(op wire.Opcode) []byte {
	n := op.PayloadLength()
	if n <= 0 {
		return nil
	}
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(0xA0 + i)
	}
	return p
}

func TestEngine_New(t *testing.T) {
	e := New(nil, nil, nil)

	assert.Equal(t, RxIdle, e.ReceiverState())
	assert.Equal(t, DispIdle, e.DispatcherState())
	assert.Equal(t, AckIdle, e.AckState())
	assert.Equal(t, uint64(0), e.Timestamp())
	assert.Equal(t, ResetLines{}, e.ResetLines())
	assert.False(t, e.Busy())
}

func TestEngine_StartRunExample(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Command(wire.OpStartRun)...)

	require.Len(t, r.dispatched, 1)
	state, ok := r.dispatched[0].State()
	require.True(t, ok)
	assert.Equal(t, wire.AgentRunning, state)

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, wire.OpStartRun, recs[0].Opcode)
	assert.Equal(t, uint64(0), recs[0].ReceiveTS)
	// latch at 0, start at 1, posting at 2, accepted at 3
	assert.Equal(t, uint64(3), recs[0].CompletionTS)
	assert.Equal(t, uint32(0x12), recs[0].Words()[1]&0xFF)

	assert.Empty(t, r.acks)
}

func TestEngine_RunPrepareExample(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Command(wire.OpRunPrepare, 0x01, 0x02, 0x03, 0x04)...)

	require.Len(t, r.acks, 1)
	beat := r.acks[0]
	assert.Equal(t, uint8(0xFE), beat.ID)
	assert.Equal(t, uint8(0x4), beat.Tag)
	assert.Equal(t, [3]byte{0x02, 0x03, 0x04}, beat.RunBytes())
	assert.True(t, beat.SOP)
	assert.True(t, beat.EOP)
	assert.Equal(t, uint64(0x4FE020304), beat.Data())

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, wire.OpRunPrepare, recs[0].Opcode)
	assert.Equal(t, uint32(0x01020304), recs[0].Payload)
	assert.Equal(t, uint64(7), recs[0].CompletionTS)

	assert.Equal(t, uint32(0x01020304), r.e.Latched().RunNumber)

	require.Len(t, r.dispatched, 1)
	state, _ := r.dispatched[0].State()
	assert.Equal(t, wire.AgentIdle, state)
}

func TestEngine_PayloadLengthTiming(t *testing.T) {
	for _, op := range wire.Opcodes {
		t.Run(op.String(), func(t *testing.T) {
			r := newRig(t)
			payload := payloadFor(op)

			r.feed(wire.DataSymbol(byte(op)))
			for _, b := range payload {
				assert.Equal(t, RxRecvPayload, r.e.ReceiverState())
				r.feed(wire.DataSymbol(b))
			}

			assert.Equal(t, RxLogging, r.e.ReceiverState(),
				"logging must start %d symbols after the opcode", len(payload))
		})
	}
}

func TestEngine_ControlSymbolsInPayloadIgnored(t *testing.T) {
	r := newRig(t)

	r.run(
		wire.DataSymbol(byte(wire.OpRunPrepare)),
		wire.DataSymbol(0x11),
		wire.IdleSymbol(),
		wire.DataSymbol(0x22),
		wire.IdleSymbol(),
		wire.IdleSymbol(),
		wire.DataSymbol(0x33),
		wire.DataSymbol(0x44),
	)

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(0x11223344), recs[0].Payload)
}

func TestEngine_DispatchBeforeLogWrite(t *testing.T) {
	for _, op := range wire.Opcodes {
		if !op.Dispatched() {
			continue
		}
		t.Run(op.String(), func(t *testing.T) {
			r := newRig(t)

			r.run(testutil.Command(op, payloadFor(op)...)...)

			dispatched := r.eventsOf(EventDispatched)
			written := r.eventsOf(EventLogWrite)
			require.Len(t, dispatched, 1)
			require.Len(t, written, 1)
			assert.Less(t, dispatched[0].Cycle, written[0].Cycle)
			assert.Equal(t, dispatched[0].Time, written[0].Record.CompletionTS)
		})
	}
}

func TestEngine_SetAddressIsLocal(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Command(wire.OpSetAddress, 0x12, 0x34)...)

	assert.Empty(t, r.dispatched)
	assert.Empty(t, r.records())
	assert.Empty(t, r.acks)
	assert.Equal(t, uint16(0x1234), r.e.Latched().TargetAddress)

	addr := r.eventsOf(EventAddress)
	require.Len(t, addr, 1)
	assert.Equal(t, uint16(0x1234), addr[0].Address)
}

func TestEngine_AcknowledgmentPerOpcode(t *testing.T) {
	for _, op := range wire.Opcodes {
		t.Run(op.String(), func(t *testing.T) {
			r := newRig(t)

			r.run(testutil.Command(op, payloadFor(op)...)...)

			if op != wire.OpRunPrepare && op != wire.OpEndRun {
				assert.Empty(t, r.acks)
				return
			}
			require.Len(t, r.acks, 1)
			if op == wire.OpEndRun {
				assert.Equal(t, uint8(0xFD), r.acks[0].ID)
				assert.Equal(t, uint32(0), r.acks[0].RunNumber)
			}
		})
	}
}

func TestEngine_CustomAckIdentifiers(t *testing.T) {
	r := newRig(t, WithAckIdentifiers(AckIdentifiers{TypeTag: 0x9, RunPrepareID: 0x11, EndRunID: 0x22}))

	r.run(testutil.Command(wire.OpEndRun)...)

	require.Len(t, r.acks, 1)
	assert.Equal(t, uint8(0x9), r.acks[0].Tag)
	assert.Equal(t, uint8(0x22), r.acks[0].ID)
}

func TestEngine_ResetLines(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Command(wire.OpReset, 0x00, 0x03)...)
	assert.Equal(t, ResetLines{Datapath: true, Control: true}, r.e.ResetLines())

	// Unrelated commands hold the lines.
	r.run(testutil.Command(wire.OpStartRun)...)
	assert.Equal(t, ResetLines{Datapath: true, Control: true}, r.e.ResetLines())

	r.run(testutil.Command(wire.OpStopReset, 0x00, 0x01)...)
	assert.Equal(t, ResetLines{}, r.e.ResetLines())

	lines := r.eventsOf(EventResetLines)
	require.Len(t, lines, 2)
	assert.True(t, lines[0].Lines.Datapath)
	assert.False(t, lines[1].Lines.Control)

	assert.Equal(t, uint16(0x0003), r.e.Latched().ResetAssertMask)
	assert.Equal(t, uint16(0x0001), r.e.Latched().ResetReleaseMask)
}

func TestEngine_HardResetMidFrame(t *testing.T) {
	r := newRig(t)

	r.feed(testutil.Command(wire.OpRunPrepare, 0x01, 0x02)...)
	require.Equal(t, RxRecvPayload, r.e.ReceiverState())

	r.e.SetReset(true)
	r.feed(wire.DataSymbol(0x03))
	r.e.SetReset(false)
	r.settle()

	assert.Empty(t, r.dispatched)
	assert.Empty(t, r.records())
	assert.Empty(t, r.acks)
	assert.Equal(t, wire.Latched{}, r.e.Latched())

	discarded := r.eventsOf(EventDiscarded)
	require.Len(t, discarded, 1)
	assert.Equal(t, telemetry.ReasonHardReset, discarded[0].Reason)

	resets := r.eventsOf(EventHardReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "primary", resets[0].Reason)
}

func TestEngine_HardResetWhilePosting(t *testing.T) {
	r := newRig(t)
	ready := false
	r.dispatchReady = func() bool { return ready }

	r.feed(testutil.Command(wire.OpStartRun)...)
	r.feed(testutil.Idle(5)...)
	require.Equal(t, DispPosting, r.e.DispatcherState())

	r.feed(testutil.LostTraining(1)...)
	assert.Equal(t, DispIdle, r.e.DispatcherState())

	ready = true
	r.settle()

	assert.Empty(t, r.dispatched)
	assert.Empty(t, r.records())

	resets := r.eventsOf(EventHardReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "loss_of_training", resets[0].Reason)
}

func TestEngine_HardResetReleasesLines(t *testing.T) {
	r := newRig(t)
	r.run(testutil.Command(wire.OpReset, 0x00, 0x00)...)
	require.True(t, r.e.ResetLines().Datapath)

	r.feed(testutil.LostTraining(3)...)

	assert.Equal(t, ResetLines{}, r.e.ResetLines())
	// one event per reset episode
	assert.Len(t, r.eventsOf(EventHardReset), 1)
}

func TestEngine_PrimaryResetClearsCounter(t *testing.T) {
	r := newRig(t)
	r.feed(testutil.Idle(10)...)
	require.Equal(t, uint64(10), r.e.Timestamp())

	r.feed(testutil.LostTraining(2)...)
	assert.Equal(t, uint64(12), r.e.Timestamp(), "loss of training keeps the time base")

	r.e.SetReset(true)
	r.feed(testutil.Idle(3)...)
	assert.Equal(t, uint64(0), r.e.Timestamp())

	r.e.SetReset(false)
	r.feed(testutil.Idle(1)...)
	assert.Equal(t, uint64(1), r.e.Timestamp())
}

func TestEngine_SymbolErrorDiscardsFrame(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Faulty(byte(wire.OpStartRun), wire.ErrParity))
	r.run(
		wire.DataSymbol(byte(wire.OpRunPrepare)),
		wire.DataSymbol(0x01),
		testutil.Faulty(0x02, wire.ErrDecode),
	)

	assert.Empty(t, r.dispatched)
	assert.Empty(t, r.records())
	assert.Empty(t, r.acks)

	discarded := r.eventsOf(EventDiscarded)
	require.Len(t, discarded, 2)
	for _, ev := range discarded {
		assert.Equal(t, telemetry.ReasonSymbolError, ev.Reason)
	}
	assert.Equal(t, wire.OpStartRun, discarded[0].Opcode)
	assert.Equal(t, wire.OpRunPrepare, discarded[1].Opcode)

	// The receiver recovers for the next command.
	r.run(testutil.Command(wire.OpStartRun)...)
	assert.Len(t, r.records(), 1)
}

func TestEngine_UnknownOpcode(t *testing.T) {
	r := newRig(t)

	r.run(wire.DataSymbol(0x7F))

	assert.Empty(t, r.dispatched)
	assert.Empty(t, r.records())

	discarded := r.eventsOf(EventDiscarded)
	require.Len(t, discarded, 1)
	assert.Equal(t, telemetry.ReasonUnknownOpcode, discarded[0].Reason)
	assert.Equal(t, wire.Opcode(0x7F), discarded[0].Opcode)
}

func TestEngine_DispatchBackpressure(t *testing.T) {
	r := newRig(t)
	r.dispatchReady = func() bool { return r.e.Cycle() >= 10 }

	r.feed(testutil.Command(wire.OpStartRun)...)
	r.feed(testutil.Idle(8)...)
	assert.True(t, r.e.Busy())
	assert.Equal(t, RxLogging, r.e.ReceiverState())
	assert.Empty(t, r.dispatched)

	r.settle()

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(10), recs[0].CompletionTS)
}

func TestEngine_AckBackpressure(t *testing.T) {
	r := newRig(t)
	r.ackReady = func() bool { return r.e.Cycle() >= 20 }

	r.feed(testutil.Command(wire.OpEndRun)...)
	r.feed(testutil.Idle(19)...)
	assert.Equal(t, AckUpload, r.e.AckState())
	assert.True(t, r.e.Busy(), "receiver waits for the acknowledgment")
	assert.Len(t, r.records(), 1, "the record is written before the ack is accepted")

	r.settle()
	assert.Len(t, r.acks, 1)
	assert.Equal(t, AckIdle, r.e.AckState())
}

func TestEngine_TimestampsIncrease(t *testing.T) {
	r := newRig(t)

	r.run(testutil.Command(wire.OpStartRun)...)
	r.feed(testutil.Idle(17)...)
	r.run(testutil.Command(wire.OpEndRun)...)

	recs := r.records()
	require.Len(t, recs, 2)
	assert.Greater(t, recs[1].ReceiveTS, recs[0].ReceiveTS)
	assert.Greater(t, recs[1].CompletionTS, recs[1].ReceiveTS)
}

func TestEngine_TimestampWrap(t *testing.T) {
	start := wire.TimestampMask - 2
	r := newRig(t, WithCounter(NewTimestampCounterAt(start)))

	r.run(testutil.Command(wire.OpStartRun)...)
	r.run(testutil.Command(wire.OpStartRun)...)

	recs := r.records()
	require.Len(t, recs, 2)
	assert.Equal(t, start, recs[0].ReceiveTS)
	assert.Equal(t, uint64(0), recs[0].CompletionTS)
	assert.Equal(t, uint32(3), recs[0].Latency())

	diff := (recs[1].ReceiveTS - recs[0].ReceiveTS) & wire.TimestampMask
	assert.Greater(t, diff, uint64(0))
	assert.Less(t, diff, uint64(1)<<(wire.TimestampBits-1))
}

func TestEngine_LogQueueFull(t *testing.T) {
	r := newRig(t)
	r.q = logfifo.New(1)
	r.e = New(r.q, DispatchFunc(func(wire.DispatchSignal) bool { return true }), nil,
		WithObserver(func(ev Event) { r.events = append(r.events, ev) }))

	r.run(testutil.Command(wire.OpStartRun)...)
	r.run(testutil.Command(wire.OpAbortRun)...)

	assert.Equal(t, uint64(1), r.q.Pushed())
	assert.Equal(t, uint64(1), r.q.Dropped())
	require.Len(t, r.eventsOf(EventLogDropped), 1)
	assert.Equal(t, wire.OpAbortRun, r.eventsOf(EventLogDropped)[0].Opcode)

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, wire.OpStartRun, recs[0].Opcode)
}

func TestEngine_Metrics(t *testing.T) {
	m, rec := telemetrytest.New(t)
	r := newRig(t, WithMetrics(m))

	r.run(testutil.Command(wire.OpRunPrepare, 0, 0, 0, 1)...)
	r.run(wire.DataSymbol(0x7F))

	assert.Equal(t, int64(1), rec.Total("runctl.commands.decoded"))
	assert.Equal(t, int64(1), rec.Total("runctl.commands.discarded"))
	assert.Equal(t, int64(1), rec.Total("runctl.dispatch.completed"))
	assert.Equal(t, int64(1), rec.Total("runctl.dispatch.latency"))
	assert.Equal(t, int64(1), rec.Total("runctl.ack.sent"))
	assert.Equal(t, int64(1), rec.Total("runctl.log.written"))
	assert.Equal(t, int64(0), rec.Total("runctl.log.dropped"))
}

func TestEngine_Run_NoLink(t *testing.T) {
	e := New(nil, nil, nil)

	err := e.Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, IsNoLink(err))
}

func TestEngine_Run_InvalidRate(t *testing.T) {
	e := New(nil, nil, nil, WithClockRate(0))

	err := e.Run(context.Background(), NewSymbolQueue())

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidRate, re.Code)
}

func TestEngine_Run_ProcessesLink(t *testing.T) {
	q := logfifo.New(4)
	e := New(q, DispatchFunc(func(wire.DispatchSignal) bool { return true }), nil, WithClockRate(100_000))
	link := NewSymbolQueue()
	link.Enqueue(testutil.Command(wire.OpStartRun)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, link) }()

	require.Eventually(t, func() bool { return q.Pushed() == 1 }, 2*time.Second, time.Millisecond)

	// A second driver is rejected while the first runs.
	err := e.Run(ctx, link)
	assert.True(t, IsAlreadyRunning(err))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_Property_OneDispatchOneRecord(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genOpcode := gen.IntRange(0, len(wire.Opcodes)-1).Map(func(i int) wire.Opcode {
		return wire.Opcodes[i]
	})

	properties.Property("each command yields one dispatch and one record, SetAddress none", prop.ForAll(
		func(op wire.Opcode, latency int) bool {
			r := newRig(t)
			var ready uint64
			r.dispatchReady = func() bool {
				if ready == 0 {
					ready = r.e.Cycle() + uint64(latency)
				}
				return r.e.Cycle() >= ready
			}

			r.run(testutil.Command(op, payloadFor(op)...)...)
			recs := r.records()

			if !op.Dispatched() {
				return len(r.dispatched) == 0 && len(recs) == 0
			}
			if len(r.dispatched) != 1 || len(recs) != 1 {
				return false
			}
			wantAck := op == wire.OpRunPrepare || op == wire.OpEndRun
			return recs[0].Opcode == op &&
				recs[0].CompletionTS > recs[0].ReceiveTS &&
				(len(r.acks) == 1) == wantAck
		},
		genOpcode,
		gen.IntRange(0, 30),
	))

	properties.Property("receive timestamps strictly increase", prop.ForAll(
		func(gaps []int) bool {
			r := newRig(t)
			for _, g := range gaps {
				r.feed(testutil.Idle(g)...)
				r.run(testutil.Command(wire.OpRunSync)...)
			}
			recs := r.records()
			if len(recs) != len(gaps) {
				return false
			}
			for i := 1; i < len(recs); i++ {
				if recs[i].ReceiveTS <= recs[i-1].ReceiveTS {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}

func TestTimestampCounter(t *testing.T) {
	c := NewTimestampCounterAt(wire.TimestampMask)
	assert.Equal(t, wire.TimestampMask, c.Value())

	c.Tick(false)
	assert.Equal(t, uint64(0), c.Value(), "counter wraps at 2^48")

	c.Tick(false)
	c.Tick(false)
	assert.Equal(t, uint64(2), c.Value())

	c.Tick(true)
	assert.Equal(t, uint64(0), c.Value())
}
