package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

type HomeStore struct {
	q       Querier
	scope   domain.Scope
	history *HistoryStore
}

// Create inserts h, keeping its ID when set. Zero timestamps are stamped.
func (s *HomeStore) Create(ctx context.Context, h *domain.Home) (*domain.Home, error) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	stampDefaults(&h.CreatedAt, &h.ModifiedAt)
	h.Scope = s.scope

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO homes (id, name, created_at, modified_at) VALUES (?, ?, ?, ?)
	`, h.ID.String(), h.Name, h.CreatedAt, h.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create home: %w", err)
	}
	if err := s.history.Record(ctx, domain.EntityHome, h.ID.String(), OpInsert, homeColumns); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, h.ID)
}

var homeColumns = []string{"name", "created_at", "modified_at"}

func (s *HomeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Home, error) {
	home := &domain.Home{Scope: s.scope}
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, created_at, modified_at FROM homes WHERE id = ?
	`, id.String()).Scan(&home.ID, &home.Name, &home.CreatedAt, &home.ModifiedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get home: %w", err)
	}

	return home, nil
}

func (s *HomeStore) List(ctx context.Context) ([]*domain.Home, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, created_at, modified_at FROM homes ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list homes: %w", err)
	}
	defer rows.Close()

	var homes []*domain.Home
	for rows.Next() {
		home := &domain.Home{Scope: s.scope}
		if err := rows.Scan(&home.ID, &home.Name, &home.CreatedAt, &home.ModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan home: %w", err)
		}
		homes = append(homes, home)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating homes: %w", err)
	}

	return homes, nil
}

func (s *HomeStore) Rename(ctx context.Context, id uuid.UUID, name string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE homes SET name = ?, modified_at = ? WHERE id = ?
	`, name, now(), id.String())
	if err != nil {
		return fmt.Errorf("failed to rename home: %w", err)
	}
	if err := affected(result, "home"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityHome, id.String(), OpUpdate, []string{"name", "modified_at"})
}

// Delete removes the home together with its locations and their items.
// Items are removed explicitly because their location reference denies
// deletion; locations then go with the cascading home delete.
func (s *HomeStore) Delete(ctx context.Context, id uuid.UUID) error {
	itemIDs, err := collectIDs(ctx, s.q, `
		SELECT i.id FROM items i JOIN locations l ON l.id = i.location_id WHERE l.home_id = ?
	`, id.String())
	if err != nil {
		return fmt.Errorf("failed to list home items: %w", err)
	}
	locationIDs, err := collectIDs(ctx, s.q, `SELECT id FROM locations WHERE home_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to list home locations: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM items WHERE location_id IN (SELECT id FROM locations WHERE home_id = ?)
	`, id.String()); err != nil {
		return fmt.Errorf("failed to delete home items: %w", err)
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM homes WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete home: %w", err)
	}
	if err := affected(result, "home"); err != nil {
		return err
	}

	for _, itemID := range itemIDs {
		if err := s.history.Record(ctx, domain.EntityItem, itemID, OpDelete, nil); err != nil {
			return err
		}
	}
	for _, locID := range locationIDs {
		if err := s.history.Record(ctx, domain.EntityLocation, locID, OpDelete, nil); err != nil {
			return err
		}
	}
	return s.history.Record(ctx, domain.EntityHome, id.String(), OpDelete, nil)
}

// Put inserts or overwrites h verbatim. It is used when applying records
// that originate outside this store.
func (s *HomeStore) Put(ctx context.Context, h *domain.Home, columns []string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO homes (id, name, created_at, modified_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, modified_at = excluded.modified_at
	`, h.ID.String(), h.Name, h.CreatedAt, h.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to put home: %w", err)
	}
	return s.history.Record(ctx, domain.EntityHome, h.ID.String(), OpUpdate, columns)
}

func collectIDs(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
