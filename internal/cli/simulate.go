package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/harness"
	"github.com/roach88/runctl/internal/store"
	"github.com/roach88/runctl/internal/telemetry"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	DBPath string // archive database, in-memory when empty
}

// SimulateResult is the JSON payload of a simulation.
type SimulateResult struct {
	Scenario  string           `json:"scenario"`
	SessionID string           `json:"session_id"`
	Pass      bool             `json:"pass"`
	Cycles    uint64           `json:"cycles"`
	Records   []RecordView     `json:"records"`
	Acks      []AckView        `json:"acks"`
	Errors    []string         `json:"errors,omitempty"`
	Metrics   map[string]int64 `json:"metrics,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run one scenario cycle by cycle",
		Long: `Run a scenario against the engine, stepping both clock domains
deterministically, then drain the log through the management port.

Prints the drained records and the acknowledgment packets. With --db the
session is archived in a SQLite database under a fresh UUIDv7 session id.

Examples:
  runctl simulate scenarios/run_prepare.yaml
  runctl simulate scenarios/run_prepare.yaml --db runs.db
  runctl simulate scenarios/run_prepare.yaml --config lab.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "archive the session in this SQLite database")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	logger := opts.log(cmd.ErrOrStderr())

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	metrics, collector, err := telemetry.NewCollector()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create metrics", err)
	}
	defer collector.Shutdown(context.Background())

	runOpts := []harness.Option{
		harness.WithConfig(opts.config()),
		harness.WithLogger(logger),
		harness.WithMetrics(metrics),
	}
	if opts.DBPath != "" {
		st, err := store.Open(opts.DBPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		runOpts = append(runOpts, harness.WithStore(st), harness.WithSessionIDs(store.UUIDv7Generator{}))
	}

	out.VerboseLog("simulating %s", scenario.Name)
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s did not complete", scenario.Name), err)
	}

	res := SimulateResult{
		Scenario:  scenario.Name,
		SessionID: result.SessionID,
		Pass:      result.Pass,
		Cycles:    result.Cycles,
		Records:   recordViews(result.Records),
		Acks:      ackViews(result.Acks),
		Errors:    result.Errors,
		Metrics:   totals(cmd, collector),
	}

	if opts.Format == "json" {
		if err := out.encode(CLIResponse{Status: status(res.Pass), Data: res, Error: scenarioError(res)}); err != nil {
			return err
		}
	} else {
		writeSimulateText(cmd, res, opts.Verbose)
	}

	if !res.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func writeSimulateText(cmd *cobra.Command, res SimulateResult, verbose bool) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s (session %s, %d cycles)\n\n", res.Scenario, res.SessionID, res.Cycles)
	fmt.Fprintln(w, "Records:")
	writeRecordTable(w, res.Records)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Acknowledgments:")
	writeAckTable(w, res.Acks)
	fmt.Fprintln(w)
	if verbose {
		writeMetrics(w, res.Metrics)
		fmt.Fprintln(w)
	}

	if res.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return
	}
	fmt.Fprintln(w, "✗ Assertions failed:")
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func status(pass bool) string {
	if pass {
		return "ok"
	}
	return "error"
}

func scenarioError(res SimulateResult) *CLIError {
	if res.Pass {
		return nil
	}
	return &CLIError{
		Code:    "E_SCENARIO_FAILED",
		Message: fmt.Sprintf("%d assertion(s) failed", len(res.Errors)),
	}
}
