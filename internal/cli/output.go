package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/wire"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario failed, invalid configuration
	ExitCommandError = 2 // Command error (missing files, bad arguments, unreadable archive)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure for errors without a code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics; defaults to Writer
	Verbose   bool
}

// newFormatter builds the formatter for a command's streams.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E_CONFIG_INVALID", "E_SCENARIO_FAILED", ...
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Goes to ErrWriter when set so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// RecordView is the printable form of a log record.
type RecordView struct {
	ReceiveTS    uint64 `json:"receive_ts"`
	Opcode       string `json:"opcode"`
	Payload      uint32 `json:"payload"`
	CompletionTS uint64 `json:"completion_ts"`
	Latency      uint32 `json:"latency"`
}

func newRecordView(r wire.LogRecord) RecordView {
	return RecordView{
		ReceiveTS:    r.ReceiveTS,
		Opcode:       r.Opcode.String(),
		Payload:      r.Payload,
		CompletionTS: r.CompletionTS,
		Latency:      r.Latency(),
	}
}

func recordViews(records []wire.LogRecord) []RecordView {
	out := make([]RecordView, len(records))
	for i, r := range records {
		out[i] = newRecordView(r)
	}
	return out
}

// AckView is the printable form of an acknowledgment packet.
type AckView struct {
	Tag       uint8  `json:"tag"`
	ID        uint8  `json:"id"`
	RunNumber uint32 `json:"run_number"`
	Data      string `json:"data"`
}

func ackViews(beats []wire.AckBeat) []AckView {
	out := make([]AckView, len(beats))
	for i, b := range beats {
		out[i] = AckView{
			Tag:       b.Tag,
			ID:        b.ID,
			RunNumber: b.RunNumber,
			Data:      fmt.Sprintf("0x%09x", b.Data()),
		}
	}
	return out
}

// writeRecordTable prints records as aligned columns.
func writeRecordTable(w io.Writer, records []RecordView) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVE\tOPCODE\tPAYLOAD\tCOMPLETION\tLATENCY")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t0x%08x\t%d\t%d\n", r.ReceiveTS, r.Opcode, r.Payload, r.CompletionTS, r.Latency)
	}
	tw.Flush()
}

// writeAckTable prints acknowledgment packets as aligned columns.
func writeAckTable(w io.Writer, acks []AckView) {
	if len(acks) == 0 {
		fmt.Fprintln(w, "No acknowledgments.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tID\tRUN\tDATA")
	for _, a := range acks {
		fmt.Fprintf(tw, "0x%x\t0x%02x\t0x%06x\t%s\n", a.Tag, a.ID, a.RunNumber, a.Data)
	}
	tw.Flush()
}

// totals reads the collected metrics. A failed collection prints a warning
// and reports no metrics.
func totals(cmd *cobra.Command, c *telemetry.Collector) map[string]int64 {
	t, err := c.Totals(context.Background())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		return nil
	}
	return t
}

func writeMetrics(w io.Writer, totals map[string]int64) {
	if len(totals) == 0 {
		fmt.Fprintln(w, "No metrics.")
		return
	}
	fmt.Fprintln(w, "Metrics:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range telemetry.Names(totals) {
		fmt.Fprintf(tw, "  %s\t%d\n", name, totals[name])
	}
	tw.Flush()
}
