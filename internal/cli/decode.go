package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/wire"
)

// DecodeResult is the JSON payload of the decode command.
type DecodeResult struct {
	Empty  bool        `json:"empty"`
	Record *RecordView `json:"record,omitempty"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <w0> <w1> <w2> <w3>",
		Short: "Decode four log words into a record",
		Long: `Decode the four 32-bit words of one log record, in the order they
were read from the management port. Words may be given in decimal, hex
(0x...) or octal (0...). Four zero words are the empty-log sentinel.

Examples:
  runctl decode 0x0 0x12 0x0 0x3
  runctl decode 0 0x40012 16909060 7 --format json`,
		Args:          cobra.ExactArgs(wire.RecordWords),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runDecode(opts *RootOptions, args []string, cmd *cobra.Command) error {
	var words [wire.RecordWords]uint32
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("word %d: invalid value %q", i, arg), err)
		}
		words[i] = uint32(v)
	}

	res := DecodeResult{Empty: wire.Empty(words)}
	if !res.Empty {
		view := newRecordView(wire.UnpackRecord(words))
		res.Record = &view
	}

	if opts.Format == "json" {
		return newFormatter(cmd, opts).Success(res)
	}

	w := cmd.OutOrStdout()
	if res.Empty {
		fmt.Fprintln(w, "Empty (log had no record)")
		return nil
	}
	r := res.Record
	fmt.Fprintf(w, "Opcode:      %s\n", r.Opcode)
	fmt.Fprintf(w, "Received:    %d\n", r.ReceiveTS)
	fmt.Fprintf(w, "Payload:     0x%08x\n", r.Payload)
	fmt.Fprintf(w, "Completed:   %d\n", r.CompletionTS)
	fmt.Fprintf(w, "Latency:     %d\n", r.Latency)
	return nil
}
