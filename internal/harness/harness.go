package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/runctl/internal/config"
	"github.com/roach88/runctl/internal/engine"
	"github.com/roach88/runctl/internal/fabric"
	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/mgmt"
	"github.com/roach88/runctl/internal/store"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/testutil"
	"github.com/roach88/runctl/internal/wire"
)

// maxWaitCycles bounds settle and register accesses so a stuck scenario
// fails instead of hanging.
const maxWaitCycles = 100_000

// Option configures a scenario run.
type Option func(*runOptions)

type runOptions struct {
	cfg      config.Config
	store    *store.Store
	sessions store.SessionIDGenerator
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// WithConfig replaces config.Default().
func WithConfig(cfg config.Config) Option {
	return func(o *runOptions) { o.cfg = cfg }
}

// WithStore archives the run into st instead of a throwaway in-memory
// database. The caller keeps ownership of st.
func WithStore(st *store.Store) Option {
	return func(o *runOptions) { o.store = st }
}

// WithSessionIDs replaces the fixed session ID taken from the scenario.
func WithSessionIDs(gen store.SessionIDGenerator) Option {
	return func(o *runOptions) { o.sessions = gen }
}

// WithLogger receives engine and reader logs. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithMetrics records engine and reader activity.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *runOptions) { o.metrics = m }
}

// Harness drives one scenario. Both clock domains are stepped from the
// calling goroutine: the management domain advances one cycle every ratio
// primary cycles, so runs are fully deterministic.
type Harness struct {
	eng    *engine.Engine
	agents *fabric.AgentGroup
	sink   *fabric.PacketSink
	queue  *logfifo.FIFO
	reader *mgmt.Reader
	logger *slog.Logger

	ratio int
	phase int

	// register access in progress
	pending  *mgmt.Request
	accepted bool
	done     bool
	resp     mgmt.Response
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the engine, agent group, packet sink, log queue and reader
//  2. Execute the steps
//  3. Settle the engine and drain the log through the register interface
//  4. Archive the session in the store
//  5. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	}
	if o.sessions == nil {
		o.sessions = testutil.NewFixedSessionGenerator(scenario.SessionID)
	}
	if o.store == nil {
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
		o.store = st
	}

	result := NewResult()
	h := newHarness(scenario, o, result)

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.settle(); err != nil {
		return nil, fmt.Errorf("final settle: %w", err)
	}
	records, err := h.drain()
	if err != nil {
		return nil, fmt.Errorf("drain log: %w", err)
	}

	result.Records = records
	result.Acks = h.sink.Packets()
	result.Dispatches = h.agents.Transitions()
	result.Lines = h.eng.ResetLines()
	result.Latched = h.eng.Latched()
	result.Cycles = h.eng.Cycle()

	ctx := context.Background()
	sessionID, err := archive(ctx, o, scenario.Name, result)
	if err != nil {
		return nil, err
	}
	result.SessionID = sessionID

	h.logger.Info("scenario executed",
		"scenario", scenario.Name,
		"session", sessionID,
		"cycles", result.Cycles,
		"records", len(result.Records),
		"acks", len(result.Acks),
	)

	actx := &AssertionContext{
		Store:     o.store,
		Ctx:       ctx,
		SessionID: sessionID,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// AgentGroup builds the downstream agents the scenario asks for, falling
// back to the configured group.
func (s *Scenario) AgentGroup(cfg config.Config) *fabric.AgentGroup {
	switch {
	case s.Agents != nil && len(s.Agents.Latencies) > 0:
		return fabric.NewAgentGroupWithLatencies(s.Agents.Latencies...)
	case s.Agents != nil:
		count := s.Agents.Count
		if count == 0 {
			count = cfg.Agents.Count
		}
		return fabric.NewAgentGroup(count, s.Agents.Latency)
	default:
		return fabric.NewAgentGroup(cfg.Agents.Count, cfg.Agents.Latency)
	}
}

// QueueDepth returns the log queue depth in records.
func (s *Scenario) QueueDepth(cfg config.Config) int {
	if s.LogDepth > 0 {
		return s.LogDepth
	}
	return cfg.LogDepth
}

// AckIdentifiers converts the configured ack constants.
func AckIdentifiers(cfg config.Config) engine.AckIdentifiers {
	return engine.AckIdentifiers{
		TypeTag:      cfg.Ack.TypeTag,
		RunPrepareID: cfg.Ack.RunPrepareID,
		EndRunID:     cfg.Ack.EndRunID,
	}
}

func newHarness(s *Scenario, o runOptions, result *Result) *Harness {
	cfg := o.cfg
	agents := s.AgentGroup(cfg)
	queue := logfifo.New(s.QueueDepth(cfg))

	ratio := s.ClockRatio
	if ratio == 0 && cfg.ManagementHz > 0 {
		ratio = cfg.PrimaryHz / cfg.ManagementHz
	}
	if ratio < 1 {
		ratio = 1
	}

	sink := fabric.NewPacketSink(s.AckStall)

	engOpts := []engine.Option{
		engine.WithObserver(result.AddTrace),
		engine.WithLogger(o.logger),
		engine.WithAckIdentifiers(AckIdentifiers(cfg)),
	}
	if o.metrics != nil {
		engOpts = append(engOpts, engine.WithMetrics(o.metrics))
	}

	return &Harness{
		eng:    engine.New(queue, agents, sink, engOpts...),
		agents: agents,
		sink:   sink,
		queue:  queue,
		reader: mgmt.NewReader(queue, o.metrics, o.logger),
		logger: o.logger,
		ratio:  ratio,
		phase:  ratio - 1, // reader's power-up flush runs in cycle 0
	}
}

// execute runs one script step.
func (h *Harness) execute(st Step) error {
	switch {
	case st.Command != "":
		op, err := wire.ParseOpcode(st.Command)
		if err != nil {
			return err
		}
		h.send(testutil.Command(op, toBytes(st.Payload)...))

	case len(st.Raw) > 0:
		for _, b := range st.Raw {
			h.cycle(wire.DataSymbol(byte(b)))
		}

	case st.Idle > 0:
		h.send(testutil.Idle(st.Idle))

	case st.Settle:
		return h.settle()

	case st.Error != nil:
		var flags wire.SymbolError
		for _, f := range st.Error.Flags {
			flags |= symbolErrorFlags[f]
		}
		h.cycle(testutil.Faulty(byte(st.Error.Data), flags))

	case st.LoseTraining > 0:
		h.send(testutil.LostTraining(st.LoseTraining))

	case st.HardReset > 0:
		h.eng.SetReset(true)
		h.send(testutil.Idle(st.HardReset))
		h.eng.SetReset(false)

	case st.MgmtReset:
		h.reader.Reset()

	case st.MgmtWrite != nil:
		if _, err := h.access(mgmt.Request{Write: true, WriteData: *st.MgmtWrite}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) send(syms []wire.Symbol) {
	for _, s := range syms {
		h.cycle(s)
	}
}

// cycle advances the primary domain by one cycle and, every ratio cycles,
// the management domain by one.
func (h *Harness) cycle(sym wire.Symbol) {
	h.eng.Step(sym)

	h.phase++
	if h.phase < h.ratio {
		return
	}
	h.phase = 0

	var req mgmt.Request
	if h.pending != nil && !h.accepted && !h.reader.Busy() {
		req = *h.pending
		h.accepted = true
	}
	resp := h.reader.Step(req)

	if h.pending == nil || !h.accepted {
		return
	}
	if !h.pending.Read || resp.Valid {
		h.done = true
		h.resp = resp
	}
}

// settle sends commas until the engine accepts a new command.
func (h *Harness) settle() error {
	for i := 0; h.eng.Busy(); i++ {
		if i >= maxWaitCycles {
			return fmt.Errorf("engine still busy after %d cycles (receiver %s)", maxWaitCycles, h.eng.ReceiverState())
		}
		h.cycle(wire.IdleSymbol())
	}
	return nil
}

// access performs one register transaction, holding the request until the
// reader accepts it.
func (h *Harness) access(req mgmt.Request) (mgmt.Response, error) {
	h.pending, h.accepted, h.done = &req, false, false
	defer func() { h.pending = nil }()

	for i := 0; !h.done; i++ {
		if i >= maxWaitCycles {
			return mgmt.Response{}, fmt.Errorf("register access not completed after %d cycles", maxWaitCycles)
		}
		h.cycle(wire.IdleSymbol())
	}
	return h.resp, nil
}

// drain reads records through the register interface until the log is
// empty.
func (h *Harness) drain() ([]wire.LogRecord, error) {
	records := []wire.LogRecord{}
	for {
		var words [wire.RecordWords]uint32
		for i := range words {
			resp, err := h.access(mgmt.Request{Read: true})
			if err != nil {
				return nil, err
			}
			if resp.Empty {
				if i == 0 {
					return records, nil
				}
				return nil, fmt.Errorf("log ran empty after %d of %d words", i, wire.RecordWords)
			}
			words[i] = resp.Data
		}
		records = append(records, wire.UnpackRecord(words))
	}
}

// archive writes the run into the store and returns the session ID.
func archive(ctx context.Context, o runOptions, label string, result *Result) (string, error) {
	cfgJSON, err := json.Marshal(o.cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}

	dispatches := make([]store.Dispatch, len(result.Dispatches))
	for i, t := range result.Dispatches {
		dispatches[i] = store.Dispatch{Signal: uint16(t.Signal), State: t.State.String(), Offers: t.Offers}
	}

	sess, err := o.store.WriteRun(ctx, store.Run{
		ID:         o.sessions.Generate(),
		Label:      label,
		Config:     string(cfgJSON),
		Records:    result.Records,
		Acks:       result.Acks,
		Dispatches: dispatches,
	})
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return sess.ID, nil
}
