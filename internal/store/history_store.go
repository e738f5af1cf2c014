package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change is one history row.
type Change struct {
	Seq       int64
	Entity    string
	EntityID  string
	Op        string
	Columns   []string
	Origin    Origin
	Pushed    bool
	ChangedAt time.Time
}

// HistoryStore records every write made through a Set. It is the store's
// persistent history: pending local edits feed the merge policy and the
// cloud mirror, and the merged cursor tracks what readers have seen.
type HistoryStore struct {
	q      Querier
	origin Origin
}

func (s *HistoryStore) Record(ctx context.Context, entity, entityID, op string, columns []string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO history (entity, entity_id, op, columns, origin, changed_at) VALUES (?, ?, ?, ?, ?, ?)
	`, entity, entityID, op, strings.Join(columns, ","), string(s.origin), now())
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// PendingLocal returns local changes not yet exported, oldest first.
func (s *HistoryStore) PendingLocal(ctx context.Context, limit int) ([]*Change, error) {
	return s.list(ctx, `
		SELECT seq, entity, entity_id, op, columns, origin, pushed, changed_at FROM history
		WHERE origin = 'local' AND pushed = 0 ORDER BY seq ASC LIMIT ?
	`, limit)
}

// Since returns every change with seq greater than after, oldest first.
func (s *HistoryStore) Since(ctx context.Context, after int64) ([]*Change, error) {
	return s.list(ctx, `
		SELECT seq, entity, entity_id, op, columns, origin, pushed, changed_at FROM history
		WHERE seq > ? ORDER BY seq ASC
	`, after)
}

func (s *HistoryStore) list(ctx context.Context, query string, args ...any) ([]*Change, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		c := &Change{}
		var columns, origin string
		if err := rows.Scan(&c.Seq, &c.Entity, &c.EntityID, &c.Op, &columns, &origin, &c.Pushed, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if columns != "" {
			c.Columns = strings.Split(columns, ",")
		}
		c.Origin = Origin(origin)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return changes, nil
}

// MarkPushed flags local changes up to and including seq as exported.
func (s *HistoryStore) MarkPushed(ctx context.Context, throughSeq int64) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE history SET pushed = 1 WHERE origin = 'local' AND pushed = 0 AND seq <= ?
	`, throughSeq)
	if err != nil {
		return fmt.Errorf("failed to mark history pushed: %w", err)
	}
	return nil
}

// DiscardPending drops unexported local changes of the given entity ids so
// they are never pushed.
func (s *HistoryStore) DiscardPending(ctx context.Context, entityIDs []string) error {
	for _, id := range entityIDs {
		_, err := s.q.ExecContext(ctx, `
			DELETE FROM history WHERE origin = 'local' AND pushed = 0 AND entity_id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("failed to discard pending history: %w", err)
		}
	}
	return nil
}

// PendingEdits describes unexported local edits of one row.
type PendingEdits struct {
	Columns  map[string]bool
	Inserted bool
	Deleted  bool
}

func (p PendingEdits) Any() bool {
	return len(p.Columns) > 0 || p.Inserted || p.Deleted
}

func (s *HistoryStore) PendingEditsFor(ctx context.Context, entity, entityID string) (PendingEdits, error) {
	edits := PendingEdits{Columns: map[string]bool{}}
	changes, err := s.list(ctx, `
		SELECT seq, entity, entity_id, op, columns, origin, pushed, changed_at FROM history
		WHERE origin = 'local' AND pushed = 0 AND entity = ? AND entity_id = ? ORDER BY seq ASC
	`, entity, entityID)
	if err != nil {
		return edits, err
	}
	for _, c := range changes {
		switch c.Op {
		case OpInsert:
			edits.Inserted = true
		case OpDelete:
			edits.Deleted = true
		}
		for _, col := range c.Columns {
			edits.Columns[col] = true
		}
	}
	return edits, nil
}

// Cursor returns the last history seq processed by ProcessPendingChanges.
func (s *HistoryStore) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	err := s.q.QueryRowContext(ctx, `SELECT merged_seq FROM store_meta WHERE id = 1`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read merge cursor: %w", err)
	}
	return seq, nil
}

func (s *HistoryStore) SetCursor(ctx context.Context, seq int64) error {
	_, err := s.q.ExecContext(ctx, `UPDATE store_meta SET merged_seq = ? WHERE id = 1`, seq)
	if err != nil {
		return fmt.Errorf("failed to advance merge cursor: %w", err)
	}
	return nil
}

// Clear removes every history row and rewinds the cursor.
func (s *HistoryStore) Clear(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return s.SetCursor(ctx, 0)
}

// EnsureStoreUUID returns the store's identity, generating it on first use.
// Uses INSERT OR IGNORE + re-SELECT so concurrent openers agree.
func EnsureStoreUUID(ctx context.Context, q Querier) (string, error) {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_meta (id, store_uuid) VALUES (1, ?)`,
		uuid.NewString(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store store uuid: %w", err)
	}

	var id string
	if err := q.QueryRowContext(ctx, `SELECT store_uuid FROM store_meta WHERE id = 1`).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read store uuid: %w", err)
	}
	return id, nil
}
