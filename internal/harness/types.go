package harness

import (
	"github.com/roach88/runctl/internal/engine"
	"github.com/roach88/runctl/internal/fabric"
	"github.com/roach88/runctl/internal/wire"
)

// TraceEvent is one engine event as recorded by the harness.
// Fields irrelevant to Kind are left zero and omitted from snapshots.
type TraceEvent struct {
	Cycle   uint64             `json:"cycle"`
	Time    uint64             `json:"time"`
	Kind    string             `json:"kind"`
	Opcode  string             `json:"opcode,omitempty"`
	Signal  string             `json:"signal,omitempty"`
	Record  *wire.LogRecord    `json:"record,omitempty"`
	Beat    *wire.AckBeat      `json:"beat,omitempty"`
	Address *uint16            `json:"address,omitempty"`
	Lines   *engine.ResetLines `json:"lines,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

// newTraceEvent converts an engine event, keeping only the fields its kind
// carries.
func newTraceEvent(ev engine.Event) TraceEvent {
	te := TraceEvent{Cycle: ev.Cycle, Time: ev.Time, Kind: string(ev.Kind)}
	switch ev.Kind {
	case engine.EventHardReset:
		te.Reason = ev.Reason
	case engine.EventResetLines:
		lines := ev.Lines
		te.Lines = &lines
	default:
		te.Opcode = ev.Opcode.String()
	}
	switch ev.Kind {
	case engine.EventDiscarded:
		te.Reason = ev.Reason
	case engine.EventDispatched:
		te.Signal = ev.Signal.String()
	case engine.EventLogWrite, engine.EventLogDropped:
		rec := *ev.Record
		te.Record = &rec
	case engine.EventAck:
		beat := *ev.Beat
		te.Beat = &beat
	case engine.EventAddress:
		addr := ev.Address
		te.Address = &addr
	}
	return te
}

// toMap renders the event with the same keys as its JSON form. Numbers are
// int64 so the map can go through MarshalCanonical.
func (e TraceEvent) toMap() map[string]any {
	m := map[string]any{
		"cycle": int64(e.Cycle),
		"time":  int64(e.Time),
		"kind":  e.Kind,
	}
	if e.Opcode != "" {
		m["opcode"] = e.Opcode
	}
	if e.Signal != "" {
		m["signal"] = e.Signal
	}
	if e.Record != nil {
		m["record"] = recordMap(*e.Record)
	}
	if e.Beat != nil {
		m["beat"] = beatMap(*e.Beat)
	}
	if e.Address != nil {
		m["address"] = int64(*e.Address)
	}
	if e.Lines != nil {
		m["lines"] = map[string]any{"datapath": e.Lines.Datapath, "control": e.Lines.Control}
	}
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	return m
}

func recordMap(r wire.LogRecord) map[string]any {
	return map[string]any{
		"receive_ts":    int64(r.ReceiveTS),
		"opcode":        r.Opcode.String(),
		"payload":       int64(r.Payload),
		"completion_ts": int64(r.CompletionTS),
	}
}

func beatMap(b wire.AckBeat) map[string]any {
	return map[string]any{
		"tag":        int64(b.Tag),
		"ident":      int64(b.ID),
		"run_number": int64(b.RunNumber),
		"data":       int64(b.Data()),
	}
}

func dispatchMap(t fabric.Transition) map[string]any {
	return map[string]any{
		"state":  t.State.String(),
		"offers": int64(t.Offers),
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// SessionID identifies the archive session written for this run.
	SessionID string `json:"session_id"`

	// Trace contains every engine event in cycle order.
	Trace []TraceEvent `json:"trace"`

	// Records are the log records drained through the management port.
	Records []wire.LogRecord `json:"records"`

	// Acks are the acknowledgment beats accepted by the packet sink.
	Acks []wire.AckBeat `json:"acks"`

	// Dispatches are the transitions accepted by the agent group.
	Dispatches []fabric.Transition `json:"dispatches"`

	// Lines are the reset outputs at the end of the run.
	Lines engine.ResetLines `json:"reset_lines"`

	// Latched are the engine's long-lived fields at the end of the run.
	Latched wire.Latched `json:"latched"`

	// Cycles is the number of primary cycles executed.
	Cycles uint64 `json:"cycles"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Records:    []wire.LogRecord{},
		Acks:       []wire.AckBeat{},
		Dispatches: []fabric.Transition{},
		Errors:     []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an engine event to the trace.
func (r *Result) AddTrace(ev engine.Event) {
	r.Trace = append(r.Trace, newTraceEvent(ev))
}
