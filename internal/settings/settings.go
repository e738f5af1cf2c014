// Package settings persists small user preferences in their own database,
// separate from both inventory stores so a store reset never touches them.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/db"
	"github.com/vbonduro/cubby/internal/domain"
)

const (
	keyMigrationCompleted = "migration.legacy_completed"
	keyLastLocationScope  = "last_location.scope"
	keyLastLocationID     = "last_location.id"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	d, err := db.Open(path, db.SettingsSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return &Store{db: d}, nil
}

func OpenInMemory(name string) (*Store, error) {
	d, err := db.OpenInMemory(name, db.SettingsSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return &Store{db: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key and whether it was set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete setting %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) MigrationCompleted(ctx context.Context) (bool, error) {
	v, ok, err := s.Get(ctx, keyMigrationCompleted)
	if err != nil || !ok {
		return false, err
	}
	done, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", keyMigrationCompleted, v, err)
	}
	return done, nil
}

func (s *Store) SetMigrationCompleted(ctx context.Context, done bool) error {
	return s.Set(ctx, keyMigrationCompleted, strconv.FormatBool(done))
}

// LastLocation is the location most recently used to add an item.
type LastLocation struct {
	Scope      domain.Scope
	LocationID uuid.UUID
}

// LastUsedLocation returns nil when no location was remembered or the stored
// pair is unreadable.
func (s *Store) LastUsedLocation(ctx context.Context) (*LastLocation, error) {
	scope, ok, err := s.Get(ctx, keyLastLocationScope)
	if err != nil || !ok {
		return nil, err
	}
	raw, ok, err := s.Get(ctx, keyLastLocationID)
	if err != nil || !ok {
		return nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil || !domain.Scope(scope).Valid() {
		return nil, nil
	}
	return &LastLocation{Scope: domain.Scope(scope), LocationID: id}, nil
}

func (s *Store) SetLastUsedLocation(ctx context.Context, scope domain.Scope, locationID uuid.UUID) error {
	if !scope.Valid() {
		return domain.NewValidationError("scope", "must be private or shared")
	}
	if err := s.Set(ctx, keyLastLocationScope, string(scope)); err != nil {
		return err
	}
	return s.Set(ctx, keyLastLocationID, locationID.String())
}

func (s *Store) ClearLastUsedLocation(ctx context.Context) error {
	return s.Delete(ctx, keyLastLocationScope, keyLastLocationID)
}
