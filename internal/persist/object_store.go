package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// allocatorScope keys the object id checkpoint row.
const allocatorScope = "objects"

// OwnershipRecord is one owner transfer.
type OwnershipRecord struct {
	ObjectID uint32
	Prev     int32
	Owner    int32
	Tick     uint32
	At       time.Time
}

// SessionRecord summarizes one finished connection.
type SessionRecord struct {
	TraceID        uuid.UUID
	ConnID         int32
	RemoteAddr     string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	Reason         string
}

// ObjectStore checkpoints the object id counter and records ownership and
// session history.
type ObjectStore struct {
	db *DB
}

func NewObjectStore(db *DB) *ObjectStore {
	return &ObjectStore{db: db}
}

// HighestObjectID returns the last checkpointed id, 0 when none.
func (s *ObjectStore) HighestObjectID(ctx context.Context) (uint32, error) {
	var highest int64
	err := s.db.SQL.QueryRowContext(ctx,
		s.db.rebind(`SELECT highest FROM object_ids WHERE scope = ?`), allocatorScope,
	).Scan(&highest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load highest object id: %w", err)
	}
	return uint32(highest), nil
}

// SaveHighestObjectID checkpoints id. The stored value never decreases.
func (s *ObjectStore) SaveHighestObjectID(ctx context.Context, id uint32) error {
	_, err := s.db.SQL.ExecContext(ctx, s.db.rebind(
		`INSERT INTO object_ids (scope, highest, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (scope) DO UPDATE SET
		   highest = CASE WHEN excluded.highest > object_ids.highest
		                  THEN excluded.highest ELSE object_ids.highest END,
		   updated_at = excluded.updated_at`),
		allocatorScope, int64(id), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save highest object id: %w", err)
	}
	return nil
}

// AppendOwnership writes a batch of ownership records in one transaction.
func (s *ObjectStore) AppendOwnership(ctx context.Context, records []OwnershipRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ownership begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.db.rebind(
		`INSERT INTO ownership_log (object_id, prev_owner, new_owner, tick, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("ownership prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		at := r.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, int64(r.ObjectID), r.Prev, r.Owner, int64(r.Tick), at.UnixMilli()); err != nil {
			return fmt.Errorf("ownership insert: %w", err)
		}
	}
	return tx.Commit()
}

// Ownership returns the transfer history of objectID, oldest first.
func (s *ObjectStore) Ownership(ctx context.Context, objectID uint32) ([]OwnershipRecord, error) {
	rows, err := s.db.SQL.QueryContext(ctx, s.db.rebind(
		`SELECT prev_owner, new_owner, tick, recorded_at FROM ownership_log
		 WHERE object_id = ? ORDER BY id`), int64(objectID))
	if err != nil {
		return nil, fmt.Errorf("query ownership: %w", err)
	}
	defer rows.Close()

	var out []OwnershipRecord
	for rows.Next() {
		var (
			r        OwnershipRecord
			tick, at int64
		)
		if err := rows.Scan(&r.Prev, &r.Owner, &tick, &at); err != nil {
			return nil, fmt.Errorf("scan ownership: %w", err)
		}
		r.ObjectID = objectID
		r.Tick = uint32(tick)
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordSession stores a finished connection.
func (s *ObjectStore) RecordSession(ctx context.Context, r SessionRecord) error {
	_, err := s.db.SQL.ExecContext(ctx, s.db.rebind(
		`INSERT INTO session_log (trace_id, conn_id, remote_addr, connected_at, disconnected_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		r.TraceID.String(), r.ConnID, r.RemoteAddr, r.ConnectedAt.Unix(), r.DisconnectedAt.Unix(), r.Reason,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", r.TraceID, err)
	}
	return nil
}

// SessionCount returns the number of recorded sessions.
func (s *ObjectStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
