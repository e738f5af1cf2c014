package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

// ShareStore persists the association between a home and its share record.
// Participants live in the cloud container and are never stored here.
type ShareStore struct {
	q       Querier
	history *HistoryStore
}

func (s *ShareStore) Save(ctx context.Context, share *domain.Share) error {
	if share.CreatedAt.IsZero() {
		share.CreatedAt = now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shares (home_id, share_id, title, url, owner_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(home_id) DO UPDATE SET
			share_id = excluded.share_id,
			title = excluded.title,
			url = excluded.url,
			owner_id = excluded.owner_id
	`, share.HomeID.String(), share.ID, share.Title, share.URL, share.OwnerID, share.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save share: %w", err)
	}
	return s.history.Record(ctx, domain.EntityShare, share.HomeID.String(), OpUpdate,
		[]string{"share_id", "title", "url", "owner_id"})
}

func (s *ShareStore) GetByHomeID(ctx context.Context, homeID uuid.UUID) (*domain.Share, error) {
	share := &domain.Share{}
	err := s.q.QueryRowContext(ctx, `
		SELECT home_id, share_id, title, url, owner_id, created_at FROM shares WHERE home_id = ?
	`, homeID.String()).Scan(&share.HomeID, &share.ID, &share.Title, &share.URL, &share.OwnerID, &share.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}

	return share, nil
}

func (s *ShareStore) List(ctx context.Context) ([]*domain.Share, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT home_id, share_id, title, url, owner_id, created_at FROM shares ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var shares []*domain.Share
	for rows.Next() {
		share := &domain.Share{}
		if err := rows.Scan(&share.HomeID, &share.ID, &share.Title, &share.URL, &share.OwnerID, &share.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}

	return shares, nil
}

func (s *ShareStore) Delete(ctx context.Context, homeID uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM shares WHERE home_id = ?`, homeID.String())
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if err := affected(result, "share"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityShare, homeID.String(), OpDelete, nil)
}
