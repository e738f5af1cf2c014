package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

type LocationStore struct {
	q       Querier
	scope   domain.Scope
	history *HistoryStore
}

const locationColumnsSQL = `id, home_id, parent_id, name, depth, created_at, modified_at`

var locationColumns = []string{"home_id", "parent_id", "name", "depth", "created_at", "modified_at"}

func (s *LocationStore) Create(ctx context.Context, l *domain.StorageLocation) (*domain.StorageLocation, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	stampDefaults(&l.CreatedAt, &l.ModifiedAt)
	l.Scope = s.scope

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO locations (`+locationColumnsSQL+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID.String(), l.HomeID.String(), nullableID(l.ParentID), l.Name, l.Depth, l.CreatedAt, l.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	if err := s.history.Record(ctx, domain.EntityLocation, l.ID.String(), OpInsert, locationColumns); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, l.ID)
}

func (s *LocationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.StorageLocation, error) {
	loc, err := s.scan(s.q.QueryRowContext(ctx, `
		SELECT `+locationColumnsSQL+` FROM locations WHERE id = ?
	`, id.String()))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	return loc, nil
}

// ListByHome returns every location of a home ordered by depth then name,
// so parents always precede their children.
func (s *LocationStore) ListByHome(ctx context.Context, homeID uuid.UUID) ([]*domain.StorageLocation, error) {
	return s.list(ctx, `
		SELECT `+locationColumnsSQL+` FROM locations WHERE home_id = ? ORDER BY depth ASC, name ASC
	`, homeID.String())
}

// Children returns the direct children of parentID, or the roots of homeID
// when parentID is nil.
func (s *LocationStore) Children(ctx context.Context, homeID uuid.UUID, parentID *uuid.UUID) ([]*domain.StorageLocation, error) {
	if parentID == nil {
		return s.list(ctx, `
			SELECT `+locationColumnsSQL+` FROM locations
			WHERE home_id = ? AND parent_id IS NULL ORDER BY name ASC
		`, homeID.String())
	}
	return s.list(ctx, `
		SELECT `+locationColumnsSQL+` FROM locations WHERE parent_id = ? ORDER BY name ASC
	`, parentID.String())
}

func (s *LocationStore) list(ctx context.Context, query string, args ...any) ([]*domain.StorageLocation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var locations []*domain.StorageLocation
	for rows.Next() {
		loc, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}

	return locations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LocationStore) scan(row rowScanner) (*domain.StorageLocation, error) {
	loc := &domain.StorageLocation{Scope: s.scope}
	var parent sql.NullString
	if err := row.Scan(&loc.ID, &loc.HomeID, &parent, &loc.Name, &loc.Depth, &loc.CreatedAt, &loc.ModifiedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		id, err := uuid.Parse(parent.String)
		if err != nil {
			return nil, fmt.Errorf("invalid parent id %q: %w", parent.String, err)
		}
		loc.ParentID = &id
	}
	return loc, nil
}

func (s *LocationStore) Rename(ctx context.Context, id uuid.UUID, name string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE locations SET name = ?, modified_at = ? WHERE id = ?
	`, name, now(), id.String())
	if err != nil {
		return fmt.Errorf("failed to rename location: %w", err)
	}
	if err := affected(result, "location"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityLocation, id.String(), OpUpdate, []string{"name", "modified_at"})
}

// SetParent re-links a location and stores its new depth. Callers are
// responsible for re-depthing the subtree with SetDepth.
func (s *LocationStore) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID, depth int) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE locations SET parent_id = ?, depth = ?, modified_at = ? WHERE id = ?
	`, nullableID(parentID), depth, now(), id.String())
	if err != nil {
		return fmt.Errorf("failed to move location: %w", err)
	}
	if err := affected(result, "location"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityLocation, id.String(), OpUpdate, []string{"parent_id", "depth", "modified_at"})
}

func (s *LocationStore) SetDepth(ctx context.Context, id uuid.UUID, depth int) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE locations SET depth = ?, modified_at = ? WHERE id = ?
	`, depth, now(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update location depth: %w", err)
	}
	if err := affected(result, "location"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityLocation, id.String(), OpUpdate, []string{"depth", "modified_at"})
}

// CountContents returns the number of child locations and items directly
// under a location.
func (s *LocationStore) CountContents(ctx context.Context, id uuid.UUID) (children, items int, err error) {
	err = s.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM locations WHERE parent_id = ?),
			(SELECT COUNT(*) FROM items WHERE location_id = ?)
	`, id.String(), id.String()).Scan(&children, &items)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count location contents: %w", err)
	}
	return children, items, nil
}

// Delete removes a single location. The schema denies the delete while
// the location still has children or items.
func (s *LocationStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	if err := affected(result, "location"); err != nil {
		return err
	}
	return s.history.Record(ctx, domain.EntityLocation, id.String(), OpDelete, nil)
}

// Put inserts or overwrites l verbatim, recording the given columns.
func (s *LocationStore) Put(ctx context.Context, l *domain.StorageLocation, columns []string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO locations (`+locationColumnsSQL+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			home_id = excluded.home_id,
			parent_id = excluded.parent_id,
			name = excluded.name,
			depth = excluded.depth,
			modified_at = excluded.modified_at
	`, l.ID.String(), l.HomeID.String(), nullableID(l.ParentID), l.Name, l.Depth, l.CreatedAt, l.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to put location: %w", err)
	}
	return s.history.Record(ctx, domain.EntityLocation, l.ID.String(), OpUpdate, columns)
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
