package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot captures everything observable about a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string
	SessionID    string
	Result       *Result
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization. Cycle totals are left out so that changes to the drain
// procedure do not churn every golden file.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, event := range s.Result.Trace {
		trace[i] = event.toMap()
	}

	records := make([]any, len(s.Result.Records))
	for i, r := range s.Result.Records {
		records[i] = recordMap(r)
	}

	acks := make([]any, len(s.Result.Acks))
	for i, b := range s.Result.Acks {
		acks[i] = beatMap(b)
	}

	dispatches := make([]any, len(s.Result.Dispatches))
	for i, d := range s.Result.Dispatches {
		dispatches[i] = dispatchMap(d)
	}

	m := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"records":       records,
		"acks":          acks,
		"dispatches":    dispatches,
	}
	if s.SessionID != "" {
		m["session_id"] = s.SessionID
	}
	return m
}

// MarshalSnapshot renders the result as canonical JSON.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		SessionID:    result.SessionID,
		Result:       result,
	}
	return MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) error {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return err
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
