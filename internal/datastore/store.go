package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/store"
)

// Notification reports that a store committed a transaction. It identifies
// the store the way a remote-change notification would: by file path and by
// the store's UUID.
type Notification struct {
	StorePath string
	StoreID   string
}

// Store is one of the two inventory databases.
type Store struct {
	scope  domain.Scope
	path   string
	id     string
	db     *sql.DB
	notify func(Notification)
	logger *slog.Logger
}

func (s *Store) Scope() domain.Scope { return s.scope }
func (s *Store) Path() string        { return s.path }
func (s *Store) ID() string          { return s.id }

// View returns stores bound to the database outside any transaction. It must
// not be used from inside an Update callback.
func (s *Store) View() *store.Set {
	return store.NewSet(s.db, s.scope, store.OriginLocal)
}

// Update runs fn in a transaction and notifies observers once it commits.
// fn must only use the Set it is given.
func (s *Store) Update(ctx context.Context, fn func(*store.Set) error) error {
	return s.write(ctx, store.OriginLocal, fn)
}

func (s *Store) write(ctx context.Context, origin store.Origin, fn func(*store.Set) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", s.scope, err)
	}

	if err := fn(store.NewSet(tx, s.scope, origin)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to roll back transaction", "scope", s.scope, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s transaction: %w", s.scope, err)
	}

	s.notify(Notification{StorePath: s.path, StoreID: s.id})
	return nil
}

// MarkExported flags local history through seq as pushed to the cloud.
func (s *Store) MarkExported(ctx context.Context, seq int64) error {
	return s.View().History.MarkPushed(ctx, seq)
}

// processPending advances the merge cursor past every history row written
// since the last call and returns how many rows that covered.
func (s *Store) processPending(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin %s transaction: %w", s.scope, err)
	}
	defer func() { _ = tx.Rollback() }()

	history := store.NewSet(tx, s.scope, store.OriginLocal).History
	cursor, err := history.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	changes, err := history.Since(ctx, cursor)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := history.SetCursor(ctx, changes[len(changes)-1].Seq); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s cursor: %w", s.scope, err)
	}
	return len(changes), nil
}

// Evict removes a home's whole aggregate and its share association as a
// remote change, discarding any local edits to it that were not yet pushed.
// Used when access to a shared home is lost.
func (s *Store) Evict(ctx context.Context, homeID uuid.UUID) error {
	return s.write(ctx, store.OriginRemote, func(set *store.Set) error {
		ids := []string{homeID.String()}
		locations, err := set.Locations.ListByHome(ctx, homeID)
		if err != nil {
			return err
		}
		for _, l := range locations {
			ids = append(ids, l.ID.String())
		}
		items, err := set.Items.List(ctx, store.ItemFilter{HomeID: &homeID})
		if err != nil {
			return err
		}
		for _, i := range items {
			ids = append(ids, i.ID.String())
		}

		if err := set.History.DiscardPending(ctx, ids); err != nil {
			return err
		}
		if err := set.Shares.Delete(ctx, homeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := set.Homes.Delete(ctx, homeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return nil
	})
}

func (s *Store) reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s reset: %w", s.scope, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM items`,
		`DELETE FROM shares`,
		`DELETE FROM locations`,
		`DELETE FROM homes`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset %s store: %w", s.scope, err)
		}
	}
	if err := store.NewSet(tx, s.scope, store.OriginLocal).History.Clear(ctx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s reset: %w", s.scope, err)
	}

	s.notify(Notification{StorePath: s.path, StoreID: s.id})
	return nil
}
