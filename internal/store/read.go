package store

import (
	"context"
	"fmt"

	"github.com/roach88/runctl/internal/wire"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Seq, &sess.Label, &sess.Config); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ReadSession retrieves a single session by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, seq, label, config FROM sessions WHERE id = ?
	`, id))
}

// ListSessions returns every session, oldest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, label, config FROM sessions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently created session.
// Returns sql.ErrNoRows if the store is empty.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, seq, label, config FROM sessions
		ORDER BY seq DESC LIMIT 1
	`))
}

// ReadRecords returns a session's log records in write order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadRecords(ctx context.Context, sessionID string) ([]wire.LogRecord, error) {
	return s.queryRecords(ctx, `
		SELECT receive_ts, opcode, payload, completion_ts
		FROM log_records
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// ReadRecordsByOpcode returns a session's records for one opcode, in write
// order.
func (s *Store) ReadRecordsByOpcode(ctx context.Context, sessionID string, op wire.Opcode) ([]wire.LogRecord, error) {
	return s.queryRecords(ctx, `
		SELECT receive_ts, opcode, payload, completion_ts
		FROM log_records
		WHERE session_id = ? AND opcode = ?
		ORDER BY seq ASC
	`, sessionID, int64(op))
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]wire.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []wire.LogRecord{}
	for rows.Next() {
		var rx, op, payload, done int64
		if err := rows.Scan(&rx, &op, &payload, &done); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, wire.LogRecord{
			ReceiveTS:    uint64(rx),
			Opcode:       wire.Opcode(op),
			Payload:      uint32(payload),
			CompletionTS: uint64(done),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// ReadAcks returns a session's acknowledgment beats in write order.
func (s *Store) ReadAcks(ctx context.Context, sessionID string) ([]wire.AckBeat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM ack_packets
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query acks: %w", err)
	}
	defer rows.Close()

	beats := []wire.AckBeat{}
	for rows.Next() {
		var data int64
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan ack: %w", err)
		}
		// Every stored beat is a complete single-beat packet.
		beats = append(beats, wire.ParseAckBeat(uint64(data), true, true))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acks: %w", err)
	}
	return beats, nil
}

// ReadDispatches returns a session's agent transitions in write order.
func (s *Store) ReadDispatches(ctx context.Context, sessionID string) ([]Dispatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal, state, offers FROM dispatches
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	out := []Dispatch{}
	for rows.Next() {
		var d Dispatch
		var sig int64
		if err := rows.Scan(&sig, &d.State, &d.Offers); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		d.Signal = uint16(sig)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return out, nil
}
