package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/runctl/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // CUE configuration file, schema defaults when empty
	LogFile    string // rotated log file, stderr when empty

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the runctl CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runctl",
		Short: "runctl - run-control command engine",
		Long: `A cycle-accurate model of a run-control command engine.

Commands arrive as framed link symbols, are dispatched to downstream
agents, acknowledged upstream and logged with timestamps to a queue that
a second clock domain drains through a register interface.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "CUE configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write logs to a rotated file instead of stderr")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewDecodeCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	// Post-run hooks are skipped when RunE fails, so the log file is
	// closed from each command instead.
	for _, sub := range cmd.Commands() {
		closeAfter(sub, opts)
	}

	return cmd
}

// closeAfter wraps sub's RunE so the log file is closed however it returns.
func closeAfter(sub *cobra.Command, opts *RootOptions) {
	run := sub.RunE
	if run == nil {
		return
	}
	sub.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := opts.teardown(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

// setup loads the configuration and installs the process logger.
func (o *RootOptions) setup(stderr io.Writer) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		cfg = loaded
	}
	o.cfg = &cfg

	level := slog.LevelInfo
	if o.Verbose || cfg.DebugLevel > 0 {
		level = slog.LevelDebug
	}

	var w io.Writer = stderr
	if o.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   o.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = lj
		o.closer = lj
	}

	o.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)
	return nil
}

func (o *RootOptions) teardown() error {
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	return err
}

// config returns the loaded configuration. Commands built without the root
// command (as in tests) get the schema defaults.
func (o *RootOptions) config() config.Config {
	if o.cfg == nil {
		cfg := config.Default()
		o.cfg = &cfg
	}
	return *o.cfg
}

// log returns the process logger, or one that only reports warnings when
// setup never ran.
func (o *RootOptions) log(w io.Writer) *slog.Logger {
	if o.logger == nil {
		level := slog.LevelWarn
		if o.Verbose {
			level = slog.LevelDebug
		}
		o.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return o.logger
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
