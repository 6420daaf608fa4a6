package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/config"
)

// Validation error codes.
const (
	ErrCodeConfigNotFound = "E_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "E_CONFIG_INVALID"
)

// ValidationError is one configuration problem with its source position.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *config.Config    `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a configuration file",
		Long: `Validate a CUE configuration file against the built-in schema.

Prints the effective configuration (file values unified with the schema
defaults) on success, the first violation with its position otherwise.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeConfigNotFound, path))
	}

	formatter.VerboseLog("Validating %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		verr := toValidationError(err)
		if formatter.Format == "json" {
			_ = formatter.encode(CLIResponse{
				Status: "error",
				Data:   ValidationResult{Valid: false, Errors: []ValidationError{verr}},
				Error: &CLIError{
					Code:    ErrCodeConfigInvalid,
					Message: verr.Message,
				},
			})
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s\n", path)
			if verr.Line > 0 {
				fmt.Fprintf(formatter.Writer, "  %s:%d:%d: %s\n", verr.Field, verr.Line, verr.Column, verr.Message)
			} else {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", verr.Field, verr.Message)
			}
		}
		return WrapExitError(ExitFailure, ErrCodeConfigInvalid, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  primary_hz:    %d\n", cfg.PrimaryHz)
	fmt.Fprintf(w, "  management_hz: %d\n", cfg.ManagementHz)
	fmt.Fprintf(w, "  log_depth:     %d\n", cfg.LogDepth)
	fmt.Fprintf(w, "  debug_level:   %d\n", cfg.DebugLevel)
	fmt.Fprintf(w, "  ack:           type_tag=0x%x run_prepare_id=0x%02x end_run_id=0x%02x\n",
		cfg.Ack.TypeTag, cfg.Ack.RunPrepareID, cfg.Ack.EndRunID)
	fmt.Fprintf(w, "  agents:        count=%d latency=%d\n", cfg.Agents.Count, cfg.Agents.Latency)
	return nil
}

// toValidationError flattens a config error, keeping its position.
func toValidationError(err error) ValidationError {
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		return ValidationError{Field: "config", Message: err.Error()}
	}
	line, col := position(cfgErr.Pos)
	return ValidationError{
		Field:   cfgErr.Field,
		Message: cfgErr.Message,
		Line:    line,
		Column:  col,
	}
}

func position(pos token.Pos) (int, int) {
	if pos.IsValid() {
		return pos.Line(), pos.Column()
	}
	return 0, 0
}
