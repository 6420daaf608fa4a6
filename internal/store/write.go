package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/runctl/internal/wire"
)

// Run is one archived session together with everything it produced.
type Run struct {
	ID         string
	Label      string
	Config     string
	Records    []wire.LogRecord
	Acks       []wire.AckBeat
	Dispatches []Dispatch
}

// WriteRun stores a session and its records, acknowledgments and
// dispatches in a single transaction. On error nothing is stored.
func (s *Store) WriteRun(ctx context.Context, run Run) (Session, error) {
	var sess Session
	err := s.inTx(ctx, "write run", func(tx *sql.Tx) error {
		var err error
		if sess, err = insertSession(ctx, tx, run.ID, run.Label, run.Config); err != nil {
			return err
		}
		if err := insertRecords(ctx, tx, sess.ID, run.Records); err != nil {
			return err
		}
		if err := insertAcks(ctx, tx, sess.ID, run.Acks); err != nil {
			return err
		}
		return insertDispatches(ctx, tx, sess.ID, run.Dispatches)
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// CreateSession inserts a session and assigns its seq.
// Uses ON CONFLICT(id) DO NOTHING for idempotency; the returned session
// carries the seq actually stored.
//
// An empty Config is stored as "{}".
func (s *Store) CreateSession(ctx context.Context, id, label, config string) (Session, error) {
	var sess Session
	err := s.inTx(ctx, "create session", func(tx *sql.Tx) error {
		var err error
		sess, err = insertSession(ctx, tx, id, label, config)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// WriteRecords appends log records to a session in the given order.
// The session must exist (foreign key constraint).
func (s *Store) WriteRecords(ctx context.Context, sessionID string, records []wire.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, "write records", func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, sessionID, records)
	})
}

// WriteAcks appends acknowledgment beats to a session in the given order.
func (s *Store) WriteAcks(ctx context.Context, sessionID string, beats []wire.AckBeat) error {
	if len(beats) == 0 {
		return nil
	}
	return s.inTx(ctx, "write acks", func(tx *sql.Tx) error {
		return insertAcks(ctx, tx, sessionID, beats)
	})
}

// WriteDispatches appends accepted agent transitions to a session.
func (s *Store) WriteDispatches(ctx context.Context, sessionID string, dispatches []Dispatch) error {
	if len(dispatches) == 0 {
		return nil
	}
	return s.inTx(ctx, "write dispatches", func(tx *sql.Tx) error {
		return insertDispatches(ctx, tx, sessionID, dispatches)
	})
}

// inTx runs fn in a transaction and commits if it returns nil.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func insertSession(ctx context.Context, tx *sql.Tx, id, label, config string) (Session, error) {
	if config == "" {
		config = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, seq, label, config)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sessions), ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, label, config)
	if err != nil {
		return Session{}, err
	}
	return scanSession(tx.QueryRowContext(ctx, `
		SELECT id, seq, label, config FROM sessions WHERE id = ?
	`, id))
}

// nextSeq returns the next free seq of a per-session table.
func nextSeq(ctx context.Context, tx *sql.Tx, table, sessionID string) (int64, error) {
	var seq int64
	// table is always a package constant, never user input
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s WHERE session_id = ?", table),
		sessionID,
	).Scan(&seq)
	return seq, err
}

func insertRecords(ctx context.Context, tx *sql.Tx, sessionID string, records []wire.LogRecord) error {
	seq, err := nextSeq(ctx, tx, "log_records", sessionID)
	if err != nil {
		return err
	}
	for i, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO log_records
			(session_id, seq, receive_ts, opcode, payload, completion_ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sessionID,
			seq+int64(i),
			int64(rec.ReceiveTS&wire.TimestampMask),
			int64(rec.Opcode),
			int64(rec.Payload),
			int64(rec.CompletionTS&wire.TimestampMask),
		)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

func insertAcks(ctx context.Context, tx *sql.Tx, sessionID string, beats []wire.AckBeat) error {
	seq, err := nextSeq(ctx, tx, "ack_packets", sessionID)
	if err != nil {
		return err
	}
	for i, b := range beats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ack_packets
			(session_id, seq, tag, ident, run_number, data)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sessionID,
			seq+int64(i),
			int64(b.Tag),
			int64(b.ID),
			int64(b.RunNumber),
			int64(b.Data()),
		)
		if err != nil {
			return fmt.Errorf("ack %d: %w", i, err)
		}
	}
	return nil
}

func insertDispatches(ctx context.Context, tx *sql.Tx, sessionID string, dispatches []Dispatch) error {
	seq, err := nextSeq(ctx, tx, "dispatches", sessionID)
	if err != nil {
		return err
	}
	for i, d := range dispatches {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dispatches
			(session_id, seq, signal, state, offers)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID, seq+int64(i), int64(d.Signal), d.State, d.Offers)
		if err != nil {
			return fmt.Errorf("dispatch %d: %w", i, err)
		}
	}
	return nil
}
