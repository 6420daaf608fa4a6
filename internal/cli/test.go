package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // glob on the scenario file name, without extension
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Cycles uint64   `json:"cycles,omitempty"`
	Note   string   `json:"note,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the JSON payload of the test command.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every .yaml/.yml scenario below a directory and report pass/fail.

A scenario passes when its assertions hold and, if golden/<name>.golden
exists next to it, its snapshot (trace, records, acknowledgments and
dispatches) matches that file byte for byte. --update rewrites the golden
files from the current run.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing directory, bad filter)

Examples:
  runctl test ./scenarios
  runctl test ./scenarios --filter "run_*"
  runctl test ./scenarios --update
  runctl test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	res := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, f := range files {
		sr := runScenario(f, opts, cmd)
		if opts.Format != "json" {
			writeScenarioLine(cmd, sr)
		}
		res.Scenarios = append(res.Scenarios, sr)
		if sr.Pass {
			res.Passed++
		} else {
			res.Failed++
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: status(res.Failed == 0), Data: res}
		if res.Failed > 0 {
			resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: fmt.Sprintf("%d scenario(s) failed", res.Failed)}
		}
		if err := newFormatter(cmd, opts.RootOptions).encode(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", res.Passed, res.Failed, res.Total)
		if res.Failed == 0 {
			fmt.Fprintln(w, "✓ All scenarios passed")
		}
	}

	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", res.Failed))
	}
	return nil
}

func writeScenarioLine(cmd *cobra.Command, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s%s\n", sr.Name, sr.Note)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// findScenarioFiles walks dir for scenario files, in lexical order.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, "scenario"); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func runScenario(path string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	failed := func(name string, errs ...string) ScenarioResult {
		return ScenarioResult{Name: name, Errors: errs}
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return failed(filepath.Base(path), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.Run(scenario,
		harness.WithConfig(opts.config()),
		harness.WithLogger(opts.log(cmd.ErrOrStderr())),
	)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	sr := ScenarioResult{Name: scenario.Name, Cycles: result.Cycles}
	note, err := checkGolden(goldenFilePath(path), scenario.Name, result, opts.Update)
	switch {
	case err != nil:
		sr.Errors = []string{err.Error()}
	case !result.Pass:
		sr.Errors = result.Errors
	default:
		sr.Pass = true
		sr.Note = note
	}
	return sr
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), "golden", name+".golden")
}

// checkGolden writes the snapshot when update is set and otherwise compares
// it with an existing golden file. A missing golden file is not an error.
func checkGolden(goldenPath, name string, result *harness.Result, update bool) (string, error) {
	snapshot, err := harness.MarshalSnapshot(name, result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
			return "", fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
			return "", fmt.Errorf("failed to write golden file: %w", err)
		}
		return " (golden updated)", nil
	}

	want, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), bytes.TrimSpace(snapshot)) {
		return "", errors.New("snapshot does not match golden file (run with --update to regenerate)")
	}
	return "", nil
}
