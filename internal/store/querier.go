package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/vbonduro/cubby/internal/domain"
)

// Querier is the common interface implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Origin tags history rows with where a write came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Set bundles the per-table stores bound to one querier, scope and origin.
// Writes through a Set append history rows on the same querier, so callers
// wanting atomic history must bind the Set to a transaction.
type Set struct {
	Homes     *HomeStore
	Locations *LocationStore
	Items     *ItemStore
	Shares    *ShareStore
	History   *HistoryStore
}

func NewSet(q Querier, scope domain.Scope, origin Origin) *Set {
	h := &HistoryStore{q: q, origin: origin}
	return &Set{
		Homes:     &HomeStore{q: q, scope: scope, history: h},
		Locations: &LocationStore{q: q, scope: scope, history: h},
		Items:     &ItemStore{q: q, scope: scope, history: h},
		Shares:    &ShareStore{q: q, history: h},
		History:   h,
	}
}

// now is the single clock for store timestamps.
var now = func() time.Time { return time.Now().UTC() }

func stampDefaults(created, modified *time.Time) {
	t := now()
	if created.IsZero() {
		*created = t
	}
	if modified.IsZero() {
		*modified = *created
	}
}

func affected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &notFoundError{what: what}
	}
	return nil
}

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }
func (e *notFoundError) Unwrap() error { return domain.ErrNotFound }
