package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/runctl/internal/store"
	"github.com/roach88/runctl/internal/wire"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	DBPath    string
	SessionID string // latest session when empty
	Opcode    string // only records of this opcode
	List      bool   // list sessions instead of records
}

// SessionLog is the JSON payload for one archived session.
type SessionLog struct {
	Session    store.Session    `json:"session"`
	Records    []RecordView     `json:"records"`
	Acks       []AckView        `json:"acks"`
	Dispatches []store.Dispatch `json:"dispatches"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show archived log records",
		Long: `Show the records, acknowledgments and dispatches archived for a
session by "runctl simulate --db". Defaults to the most recent session.

Examples:
  runctl log --db runs.db
  runctl log --db runs.db --list
  runctl log --db runs.db --session 0190b5c8-... --opcode RunPrepare`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "archive database (required)")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session id (default: latest)")
	cmd.Flags().StringVar(&opts.Opcode, "opcode", "", "only show records of this opcode")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list sessions")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.DBPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DBPath))
	}

	var op wire.Opcode
	if opts.Opcode != "" {
		parsed, err := wire.ParseOpcode(opts.Opcode)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --opcode", err)
		}
		op = parsed
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.List {
		return listSessions(ctx, opts, st, cmd)
	}

	var sess store.Session
	if opts.SessionID != "" {
		sess, err = st.ReadSession(ctx, opts.SessionID)
	} else {
		sess, err = st.LatestSession(ctx)
	}
	if errors.Is(err, sql.ErrNoRows) {
		if opts.SessionID != "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.SessionID))
		}
		return NewExitError(ExitCommandError, "database has no sessions")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	var records []wire.LogRecord
	if opts.Opcode != "" {
		records, err = st.ReadRecordsByOpcode(ctx, sess.ID, op)
	} else {
		records, err = st.ReadRecords(ctx, sess.ID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}
	acks, err := st.ReadAcks(ctx, sess.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read acks", err)
	}
	dispatches, err := st.ReadDispatches(ctx, sess.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dispatches", err)
	}

	res := SessionLog{
		Session:    sess,
		Records:    recordViews(records),
		Acks:       ackViews(acks),
		Dispatches: dispatches,
	}

	if opts.Format == "json" {
		return newFormatter(cmd, opts.RootOptions).Success(res)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session: %s (%s)\n\n", sess.ID, sess.Label)
	fmt.Fprintln(w, "Records:")
	writeRecordTable(w, res.Records)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Acknowledgments:")
	writeAckTable(w, res.Acks)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Dispatches:")
	if len(dispatches) == 0 {
		fmt.Fprintln(w, "No dispatches.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tSTATE\tOFFERS")
	for _, d := range dispatches {
		fmt.Fprintf(tw, "0x%04x\t%s\t%d\n", d.Signal, d.State, d.Offers)
	}
	return tw.Flush()
}

func listSessions(ctx context.Context, opts *LogOptions, st *store.Store, cmd *cobra.Command) error {
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	if opts.Format == "json" {
		return newFormatter(cmd, opts.RootOptions).Success(sessions)
	}

	w := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tLABEL")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Seq, s.ID, s.Label)
	}
	return tw.Flush()
}
