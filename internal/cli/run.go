package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/runctl/internal/engine"
	"github.com/roach88/runctl/internal/fabric"
	"github.com/roach88/runctl/internal/harness"
	"github.com/roach88/runctl/internal/logfifo"
	"github.com/roach88/runctl/internal/mgmt"
	"github.com/roach88/runctl/internal/telemetry"
	"github.com/roach88/runctl/internal/wire"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Duration  time.Duration // how long the primary domain runs
	SettleGap int           // commas sent for each settle step
}

// RunResult is the JSON payload of a live run.
type RunResult struct {
	Scenario string           `json:"scenario"`
	Symbols  int              `json:"symbols"`
	Records  []RecordView     `json:"records"`
	Acks     []AckView        `json:"acks"`
	Dropped  uint64           `json:"dropped"`
	Metrics  map[string]int64 `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario with free-running clock domains",
		Long: `Run the scenario's link script through the engine in real time.

The primary and management domains each run in their own goroutine at the
configured clock rates and share only the log queue. After --duration the
primary domain stops and the log is drained through the management port.

Only link steps can be scripted: hard_reset, mgmt_reset and mgmt_write are
rejected. Assertions are not evaluated; use simulate for that.

Press Ctrl-C to stop early.

Examples:
  runctl run scenarios/start_run.yaml
  runctl run scenarios/start_run.yaml --duration 2s --config lab.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 100*time.Millisecond, "how long the primary domain runs")
	cmd.Flags().IntVar(&opts.SettleGap, "settle-gap", 256, "comma characters sent for each settle step")

	return cmd
}

func runLive(opts *RunOptions, path string, cmd *cobra.Command) error {
	if opts.Duration <= 0 {
		return NewExitError(ExitCommandError, "duration must be positive")
	}
	if opts.SettleGap < 0 {
		return NewExitError(ExitCommandError, "settle-gap must be non-negative")
	}

	cfg := opts.config()
	logger := opts.log(cmd.ErrOrStderr())

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	script, err := harness.Script(scenario, opts.SettleGap)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario cannot run live", err)
	}

	metrics, collector, err := telemetry.NewCollector()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create metrics", err)
	}
	defer collector.Shutdown(context.Background())

	queue := logfifo.New(scenario.QueueDepth(cfg))
	sink := fabric.NewPacketSink(scenario.AckStall)
	eng := engine.New(queue, scenario.AgentGroup(cfg), sink,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithClockRate(cfg.PrimaryHz),
		engine.WithAckIdentifiers(harness.AckIdentifiers(cfg)),
	)
	dom := mgmt.NewDomain(queue,
		mgmt.WithLogger(logger),
		mgmt.WithMetrics(metrics),
		mgmt.WithClockRate(cfg.ManagementHz),
	)
	port := dom.Port()

	link := engine.NewSymbolQueue()
	link.Enqueue(script...)
	defer link.Close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	mgmtCtx, stopMgmt := context.WithCancel(ctx)
	defer stopMgmt()

	var records []wire.LogRecord
	var g errgroup.Group

	g.Go(func() error {
		return stopped(dom.Run(mgmtCtx))
	})

	g.Go(func() error {
		defer stopMgmt()

		// The reader accepts the guard write only once its power-up
		// flush is done, so nothing the engine logs gets flushed.
		if err := awaitReader(ctx, port); err != nil {
			return stopped(err)
		}

		engCtx, stopEngine := context.WithTimeout(ctx, opts.Duration)
		defer stopEngine()
		if err := stopped(eng.Run(engCtx, link)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		drained, err := port.Drain(ctx)
		records = drained
		return stopped(err)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}

	res := RunResult{
		Scenario: scenario.Name,
		Symbols:  len(script),
		Records:  recordViews(records),
		Acks:     ackViews(sink.Packets()),
		Dropped:  queue.Dropped(),
		Metrics:  totals(cmd, collector),
	}
	logger.Info("run finished", "scenario", res.Scenario, "records", len(res.Records), "dropped", res.Dropped)

	if opts.Format == "json" {
		return newFormatter(cmd, opts.RootOptions).Success(res)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scenario: %s (%d symbols)\n\n", res.Scenario, res.Symbols)
	fmt.Fprintln(w, "Records:")
	writeRecordTable(w, res.Records)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Acknowledgments:")
	writeAckTable(w, res.Acks)
	if res.Dropped > 0 {
		fmt.Fprintf(w, "\n%d record(s) dropped on a full log queue\n", res.Dropped)
	}
	if opts.Verbose {
		fmt.Fprintln(w)
		writeMetrics(w, res.Metrics)
	}
	return nil
}

// awaitReader blocks until the management domain is running and idle.
func awaitReader(ctx context.Context, port *mgmt.Port) error {
	for {
		err := port.WriteWord(ctx, mgmt.FlushGuard)
		if !mgmt.IsNotRunning(err) {
			return err
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stopped treats cancellation as a clean shutdown.
func stopped(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
