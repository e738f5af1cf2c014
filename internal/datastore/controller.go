// Package datastore owns the private and shared inventory stores and the
// notifications they emit when their contents change.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/db"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/settings"
	"github.com/vbonduro/cubby/internal/store"
)

const (
	PrivateFileName = "Private.sqlite"
	SharedFileName  = "Shared.sqlite"
)

// RoleResolver derives the current user's permission on a shared home.
type RoleResolver interface {
	Permission(ctx context.Context, home *domain.Home) domain.SharePermission
}

type Options struct {
	// BaseDir holds the store files. Ignored when InMemory is set.
	BaseDir  string
	InMemory bool
	Settings *settings.Store
	Logger   *slog.Logger
}

// Processed counts history rows consumed per store by ProcessPendingChanges.
type Processed struct {
	Private int
	Shared  int
}

type Controller struct {
	private  *Store
	shared   *Store
	settings *settings.Store
	logger   *slog.Logger

	mu        sync.RWMutex
	observers map[int]func(Notification)
	nextToken int
	roles     RoleResolver
}

// Open opens both stores, applying the schema to each. Failure to open
// either store is fatal and closes whatever was opened.
func Open(ctx context.Context, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		settings:  opts.Settings,
		logger:    logger,
		observers: map[int]func(Notification){},
	}

	var err error
	if !opts.InMemory {
		if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	c.private, err = c.openStore(ctx, opts, domain.ScopePrivate, PrivateFileName)
	if err != nil {
		return nil, err
	}
	c.shared, err = c.openStore(ctx, opts, domain.ScopeShared, SharedFileName)
	if err != nil {
		_ = c.private.db.Close()
		return nil, err
	}

	logger.Info("stores opened", "private", c.private.path, "shared", c.shared.path)
	return c, nil
}

func (c *Controller) openStore(ctx context.Context, opts Options, scope domain.Scope, fileName string) (*Store, error) {
	var (
		path string
		err  error
		s    = &Store{scope: scope, notify: c.dispatch, logger: c.logger}
	)
	if opts.InMemory {
		path = fmt.Sprintf("memory:%s-%s", scope, uuid.NewString())
		s.db, err = db.OpenInMemory(path, db.StoreSchema)
	} else {
		path = filepath.Join(opts.BaseDir, fileName)
		s.db, err = db.Open(path, db.StoreSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", scope, err)
	}
	s.path = path

	s.id, err = store.EnsureStoreUUID(ctx, s.db)
	if err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("failed to identify %s store: %w", scope, err)
	}
	return s, nil
}

func (c *Controller) PrivateStore() *Store { return c.private }

// SharedStore returns nil until the shared store has been loaded.
func (c *Controller) SharedStore() *Store { return c.shared }

func (c *Controller) Store(scope domain.Scope) *Store {
	if scope == domain.ScopeShared {
		return c.shared
	}
	return c.private
}

// SetRoleResolver injects the permission source used by CanEdit.
func (c *Controller) SetRoleResolver(r RoleResolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = r
}

func (c *Controller) IsShared(obj domain.Object) bool {
	return obj != nil && obj.StoreScope() == domain.ScopeShared
}

// CanEdit reports whether obj may be mutated. Private objects always may;
// shared objects need an owner or readWrite role on their home.
func (c *Controller) CanEdit(ctx context.Context, obj domain.Object) bool {
	if !c.IsShared(obj) {
		return true
	}

	c.mu.RLock()
	roles := c.roles
	c.mu.RUnlock()
	if roles == nil {
		return false
	}

	home, err := c.HomeOf(ctx, obj)
	if err != nil {
		c.logger.Warn("failed to resolve home for permission check", "error", err)
		return false
	}
	if home == nil {
		return false
	}
	return roles.Permission(ctx, home).CanEdit()
}

// HomeOf resolves the home an object belongs to, in the object's own store.
func (c *Controller) HomeOf(ctx context.Context, obj domain.Object) (*domain.Home, error) {
	set := c.Store(obj.StoreScope()).View()

	switch o := obj.(type) {
	case *domain.Home:
		return o, nil
	case *domain.StorageLocation:
		return set.Homes.GetByID(ctx, o.HomeID)
	case *domain.InventoryItem:
		loc, err := set.Locations.GetByID(ctx, o.LocationID)
		if err != nil || loc == nil {
			return nil, err
		}
		return set.Homes.GetByID(ctx, loc.HomeID)
	}
	return nil, fmt.Errorf("unsupported object %T", obj)
}

// Observe registers fn for store-changed notifications and returns a token
// for Unobserve. fn runs on the committing goroutine.
func (c *Controller) Observe(fn func(Notification)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextToken++
	c.observers[c.nextToken] = fn
	return c.nextToken
}

func (c *Controller) Unobserve(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, token)
}

func (c *Controller) dispatch(n Notification) {
	c.mu.RLock()
	fns := make([]func(Notification), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}

// ProcessPendingChanges consumes the history written to both stores since
// the previous call so readers observe a consistent snapshot.
func (c *Controller) ProcessPendingChanges(ctx context.Context) (Processed, error) {
	var p Processed
	var err error
	if p.Private, err = c.private.processPending(ctx); err != nil {
		return Processed{}, err
	}
	if c.shared != nil {
		if p.Shared, err = c.shared.processPending(ctx); err != nil {
			return Processed{}, err
		}
	}
	return p, nil
}

// Reset deletes every row in both stores, history included. It is the
// recovery path after a failed migration and cannot be undone.
func (c *Controller) Reset(ctx context.Context) error {
	c.logger.Warn("resetting both stores")
	var errs []error
	if err := c.private.reset(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.shared != nil {
		if err := c.shared.reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LastUsedLocation resolves the remembered location through the store it
// was saved from. It returns nil if nothing was remembered or the location
// no longer exists.
func (c *Controller) LastUsedLocation(ctx context.Context) (*domain.StorageLocation, error) {
	if c.settings == nil {
		return nil, nil
	}
	last, err := c.settings.LastUsedLocation(ctx)
	if err != nil || last == nil {
		return nil, err
	}
	s := c.Store(last.Scope)
	if s == nil {
		return nil, nil
	}
	return s.View().Locations.GetByID(ctx, last.LocationID)
}

func (c *Controller) RememberLocation(ctx context.Context, loc *domain.StorageLocation) error {
	if c.settings == nil {
		return nil
	}
	return c.settings.SetLastUsedLocation(ctx, loc.Scope, loc.ID)
}

func (c *Controller) Close() error {
	var errs []error
	if c.private != nil {
		errs = append(errs, c.private.db.Close())
	}
	if c.shared != nil {
		errs = append(errs, c.shared.db.Close())
	}
	return errors.Join(errs...)
}
