package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/runctl/internal/engine"
	"github.com/roach88/runctl/internal/wire"
)

// Scenario defines a simulation scenario: a symbol script driven into the
// engine, the collaborators' behavior, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Agents configures the downstream agent group. Defaults come from
	// the run configuration.
	Agents *AgentSetup `yaml:"agents,omitempty"`

	// AckStall is the number of offers the packet sink refuses before
	// accepting each acknowledgment.
	AckStall int `yaml:"ack_stall,omitempty"`

	// LogDepth overrides the configured log queue depth.
	LogDepth int `yaml:"log_depth,omitempty"`

	// ClockRatio is the number of primary cycles per management cycle.
	// Defaults to the ratio of the configured clock rates.
	ClockRatio int `yaml:"clock_ratio,omitempty"`

	// Steps is the script, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace, drained records and final state.
	Assertions []Assertion `yaml:"assertions"`

	// SessionID is an optional fixed archive session ID for deterministic
	// tests. If empty, defaults to "test-session-default".
	SessionID string `yaml:"session_id,omitempty"`
}

// AgentSetup describes the agent group.
type AgentSetup struct {
	Count   int `yaml:"count,omitempty"`
	Latency int `yaml:"latency,omitempty"`

	// Latencies, when set, creates one agent per entry and overrides
	// Count and Latency.
	Latencies []int `yaml:"latencies,omitempty"`
}

// Step is one script entry. Exactly one field must be set.
type Step struct {
	// Command sends an opcode (by name, e.g. "StartRun") followed by
	// Payload. Payload may be shorter than the opcode's length to leave
	// the frame open.
	Command string `yaml:"command,omitempty"`
	Payload []int  `yaml:"payload,omitempty"`

	// Raw sends arbitrary data bytes, e.g. an unknown opcode.
	Raw []int `yaml:"raw,omitempty"`

	// Idle sends N comma characters.
	Idle int `yaml:"idle,omitempty"`

	// Settle sends commas until the engine accepts a new command.
	Settle bool `yaml:"settle,omitempty"`

	// Error sends one data character with symbol error flags.
	Error *ErrorStep `yaml:"error,omitempty"`

	// LoseTraining sends N characters flagged with loss of link training.
	LoseTraining int `yaml:"lose_training,omitempty"`

	// HardReset holds the primary reset for N cycles.
	HardReset int `yaml:"hard_reset,omitempty"`

	// MgmtReset resets the management domain.
	MgmtReset bool `yaml:"mgmt_reset,omitempty"`

	// MgmtWrite writes the log register.
	MgmtWrite *uint32 `yaml:"mgmt_write,omitempty"`
}

// ErrorStep is a faulty data character.
type ErrorStep struct {
	Data  int      `yaml:"data"`
	Flags []string `yaml:"flags"`
}

// symbolErrorFlags maps scenario flag names to link error bits.
var symbolErrorFlags = map[string]wire.SymbolError{
	"parity": wire.ErrParity,
	"decode": wire.ErrDecode,
}

// Assertion validates the trace, the drained log or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Kind (and Opcode) with matching Fields
	// - "trace_order": event kinds appear in order
	// - "trace_count": events of Kind (and Opcode) appear exactly Count times
	// - "record_count": Count records were drained (of Opcode, if set)
	// - "ack_count": Count acknowledgment packets were accepted
	// - "reset_lines": final reset lines match Expect
	// - "latched": final long-lived fields match Expect
	// - "final_state": query an archive table and verify expected values
	Type string `yaml:"type"`

	// Kind is the trace event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Opcode narrows trace and record assertions to one opcode name.
	Opcode string `yaml:"opcode,omitempty"`

	// Fields are expected event fields (trace_contains), subset match.
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// Kinds is the expected order (trace_order). An entry may be
	// "kind" or "kind:Opcode".
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Table is the archive table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state). The session filter is
	// always added.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values, subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertRecordCount   = "record_count"
	AssertAckCount      = "ack_count"
	AssertResetLines    = "reset_lines"
	AssertLatched       = "latched"
	AssertFinalState    = "final_state"
)

// eventKinds lists the trace event kinds assertions may name.
var eventKinds = map[string]bool{
	string(engine.EventLatched):    true,
	string(engine.EventDiscarded):  true,
	string(engine.EventDispatched): true,
	string(engine.EventLogWrite):   true,
	string(engine.EventLogDropped): true,
	string(engine.EventAck):        true,
	string(engine.EventAddress):    true,
	string(engine.EventResetLines): true,
	string(engine.EventHardReset):  true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.AckStall < 0 {
		return fmt.Errorf("ack_stall must be non-negative")
	}
	if s.LogDepth < 0 {
		return fmt.Errorf("log_depth must be non-negative")
	}
	if s.ClockRatio < 0 {
		return fmt.Errorf("clock_ratio must be non-negative")
	}

	if a := s.Agents; a != nil {
		if a.Count < 0 || a.Latency < 0 {
			return fmt.Errorf("agents: count and latency must be non-negative")
		}
		for i, l := range a.Latencies {
			if l < 0 {
				return fmt.Errorf("agents.latencies[%d]: must be non-negative", i)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that exactly one action is set and its values fit.
func validateStep(index int, st *Step) error {
	set := 0
	for _, b := range []bool{
		st.Command != "", len(st.Raw) > 0, st.Idle > 0, st.Settle, st.Error != nil,
		st.LoseTraining > 0, st.HardReset > 0, st.MgmtReset, st.MgmtWrite != nil,
	} {
		if b {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, found %d", index, set)
	}
	if st.Idle < 0 || st.LoseTraining < 0 || st.HardReset < 0 {
		return fmt.Errorf("steps[%d]: counts must be non-negative", index)
	}

	if len(st.Payload) > 0 && st.Command == "" {
		return fmt.Errorf("steps[%d]: payload requires command", index)
	}
	if st.Command != "" {
		op, err := wire.ParseOpcode(st.Command)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if len(st.Payload) > op.PayloadLength() {
			return fmt.Errorf("steps[%d]: %s takes %d payload bytes, got %d",
				index, op, op.PayloadLength(), len(st.Payload))
		}
	}

	for j, b := range append(append([]int(nil), st.Payload...), st.Raw...) {
		if b < 0 || b > 0xFF {
			return fmt.Errorf("steps[%d]: byte %d out of range: %d", index, j, b)
		}
	}

	if e := st.Error; e != nil {
		if e.Data < 0 || e.Data > 0xFF {
			return fmt.Errorf("steps[%d].error: data out of range: %d", index, e.Data)
		}
		if len(e.Flags) == 0 {
			return fmt.Errorf("steps[%d].error: flags are required", index)
		}
		for _, f := range e.Flags {
			if _, ok := symbolErrorFlags[f]; !ok {
				return fmt.Errorf("steps[%d].error: unknown flag %q", index, f)
			}
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Opcode != "" {
		if _, err := wire.ParseOpcode(a.Opcode); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if !eventKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown event kind %q for %s", index, a.Kind, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
		for _, k := range a.Kinds {
			kind, _, _ := strings.Cut(k, ":")
			if !eventKinds[kind] {
				return fmt.Errorf("assertions[%d]: unknown event kind %q", index, kind)
			}
		}
	case AssertRecordCount, AssertAckCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertResetLines, AssertLatched:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
