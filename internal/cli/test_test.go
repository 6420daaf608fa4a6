package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommandMissingArgs(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassingScenarios(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "start_run.yaml", startRunScenario)
	writeFile(t, dir, "nested/run_prepare.yml", runPrepareScenario)
	writeFile(t, dir, "notes.txt", "not a scenario")

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ start_run")
	assert.Contains(t, out, "✓ run_prepare")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "start_run.yaml", startRunScenario)
	writeFile(t, dir, "wrong.yaml", `
name: wrong
description: "No acknowledgment for StartRun"
steps:
  - command: StartRun
assertions:
  - type: ack_count
    count: 1
`)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: [unclosed")

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "start_run.yaml", startRunScenario)
	writeFile(t, dir, "run_prepare.yaml", runPrepareScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--filter", "run_*", dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "run_prepare")
	assert.NotContains(t, buf.String(), "start_run")
	assert.Contains(t, buf.String(), "1 total")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "start_run.yaml", startRunScenario)

	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--filter", "[", dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "run_prepare.yaml", runPrepareScenario)
	goldenPath := filepath.Join(dir, "golden", "run_prepare.golden")

	update := NewTestCommand(&RootOptions{Format: "text"})
	buf := &bytes.Buffer{}
	update.SetOut(buf)
	update.SetErr(&bytes.Buffer{})
	update.SetArgs([]string{"--update", dir})
	require.NoError(t, update.Execute())
	assert.Contains(t, buf.String(), "(golden updated)")

	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"run_prepare"`)

	check := NewTestCommand(&RootOptions{Format: "text"})
	check.SetOut(&bytes.Buffer{})
	check.SetErr(&bytes.Buffer{})
	check.SetArgs([]string{dir})
	require.NoError(t, check.Execute())

	// A stale golden file fails the scenario even though its assertions hold.
	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"run_prepare","trace":[]}`), 0644))

	stale := NewTestCommand(&RootOptions{Format: "text"})
	out := &bytes.Buffer{}
	stale.SetOut(out)
	stale.SetErr(&bytes.Buffer{})
	stale.SetArgs([]string{dir})
	err = stale.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "snapshot does not match golden file")
}
