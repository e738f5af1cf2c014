package datastore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/settings"
	"github.com/vbonduro/cubby/internal/store"
)

func openTestController(t *testing.T) *Controller {
	t.Helper()
	prefs, err := settings.OpenInMemory("settings-" + uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })

	c, err := Open(context.Background(), Options{InMemory: true, Settings: prefs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedHome(t *testing.T, s *Store, name string) (*domain.Home, *domain.StorageLocation, *domain.InventoryItem) {
	t.Helper()
	var (
		home *domain.Home
		loc  *domain.StorageLocation
		item *domain.InventoryItem
	)
	err := s.Update(context.Background(), func(set *store.Set) error {
		var err error
		ctx := context.Background()
		if home, err = set.Homes.Create(ctx, &domain.Home{Name: name}); err != nil {
			return err
		}
		if loc, err = set.Locations.Create(ctx, &domain.StorageLocation{HomeID: home.ID, Name: "Kitchen"}); err != nil {
			return err
		}
		item, err = set.Items.Create(ctx, &domain.InventoryItem{LocationID: loc.ID, Title: "Whisk"})
		return err
	})
	require.NoError(t, err)
	return home, loc, item
}

type stubRoles struct {
	role domain.ParticipantRole
}

func (s stubRoles) Permission(context.Context, *domain.Home) domain.SharePermission {
	return domain.SharePermission{Role: s.role}
}

func TestOpenCreatesBothStoreFiles(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(context.Background(), Options{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, filepath.Join(dir, PrivateFileName), c.PrivateStore().Path())
	assert.Equal(t, filepath.Join(dir, SharedFileName), c.SharedStore().Path())
	assert.FileExists(t, filepath.Join(dir, PrivateFileName))
	assert.FileExists(t, filepath.Join(dir, SharedFileName))
	assert.NotEqual(t, c.PrivateStore().ID(), c.SharedStore().ID())
}

func TestOpenKeepsStoreIdentity(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(context.Background(), Options{BaseDir: dir})
	require.NoError(t, err)
	id := c.PrivateStore().ID()
	require.NoError(t, c.Close())

	c, err = Open(context.Background(), Options{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, id, c.PrivateStore().ID())
}

func TestStoreScopeTagsObjects(t *testing.T) {
	c := openTestController(t)
	home, _, _ := seedHome(t, c.SharedStore(), "Theirs")
	mine, _, _ := seedHome(t, c.PrivateStore(), "Mine")

	assert.True(t, c.IsShared(home))
	assert.False(t, c.IsShared(mine))
	assert.Equal(t, c.SharedStore(), c.Store(domain.ScopeShared))
	assert.Equal(t, c.PrivateStore(), c.Store(domain.ScopePrivate))
}

func TestUpdateNotifiesAfterCommit(t *testing.T) {
	c := openTestController(t)

	var mu sync.Mutex
	var got []Notification
	token := c.Observe(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	})

	seedHome(t, c.PrivateStore(), "Main")

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, c.PrivateStore().Path(), got[0].StorePath)
	assert.Equal(t, c.PrivateStore().ID(), got[0].StoreID)
	mu.Unlock()

	c.Unobserve(token)
	seedHome(t, c.PrivateStore(), "Other")

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestUpdateRollsBackOnError(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	notified := false
	c.Observe(func(Notification) { notified = true })

	err := c.PrivateStore().Update(ctx, func(set *store.Set) error {
		if _, err := set.Homes.Create(ctx, &domain.Home{Name: "Doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, notified)

	homes, err := c.PrivateStore().View().Homes.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, homes)
}

func TestCanEdit(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	mine, _, myItem := seedHome(t, c.PrivateStore(), "Mine")
	_, theirLoc, theirItem := seedHome(t, c.SharedStore(), "Theirs")

	assert.True(t, c.CanEdit(ctx, mine))
	assert.True(t, c.CanEdit(ctx, myItem))
	assert.False(t, c.CanEdit(ctx, theirItem), "no resolver means read-only")

	c.SetRoleResolver(stubRoles{role: domain.RoleReadWrite})
	assert.True(t, c.CanEdit(ctx, theirItem))
	assert.True(t, c.CanEdit(ctx, theirLoc))

	c.SetRoleResolver(stubRoles{role: domain.RoleReadOnly})
	assert.False(t, c.CanEdit(ctx, theirItem))
	assert.True(t, c.CanEdit(ctx, myItem))
}

func TestProcessPendingChangesAdvancesCursor(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	seedHome(t, c.PrivateStore(), "Mine")
	seedHome(t, c.SharedStore(), "Theirs")

	p, err := c.ProcessPendingChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Processed{Private: 3, Shared: 3}, p)

	p, err = c.ProcessPendingChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Processed{}, p)
}

func TestResetEmptiesBothStores(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	seedHome(t, c.PrivateStore(), "Mine")
	seedHome(t, c.SharedStore(), "Theirs")

	require.NoError(t, c.Reset(ctx))

	for _, s := range []*Store{c.PrivateStore(), c.SharedStore()} {
		homes, err := s.View().Homes.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, homes)
		items, err := s.View().Items.List(ctx, store.ItemFilter{})
		require.NoError(t, err)
		assert.Empty(t, items)
		history, err := s.View().History.Since(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestLastUsedLocation(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	_, loc, _ := seedHome(t, c.SharedStore(), "Theirs")

	got, err := c.LastUsedLocation(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.RememberLocation(ctx, loc))
	got, err = c.LastUsedLocation(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, got.ID)
	assert.Equal(t, domain.ScopeShared, got.Scope)

	require.NoError(t, c.Reset(ctx))
	got, err = c.LastUsedLocation(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvictDropsHomeAndPendingEdits(t *testing.T) {
	c := openTestController(t)
	ctx := context.Background()
	shared := c.SharedStore()
	home, loc, item := seedHome(t, shared, "Theirs")
	keep, _, _ := seedHome(t, shared, "Other")

	require.NoError(t, shared.Evict(ctx, home.ID))

	got, err := shared.View().Homes.GetByID(ctx, home.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	gotLoc, err := shared.View().Locations.GetByID(ctx, loc.ID)
	require.NoError(t, err)
	assert.Nil(t, gotLoc)
	gotItem, err := shared.View().Items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, gotItem)

	pending, err := shared.View().History.PendingLocal(ctx, 100)
	require.NoError(t, err)
	for _, ch := range pending {
		assert.NotEqual(t, home.ID.String(), ch.EntityID)
	}
	assert.Len(t, pending, 3, "only the other home's rows stay pending")

	other, err := shared.View().Homes.GetByID(ctx, keep.ID)
	require.NoError(t, err)
	assert.NotNil(t, other)

	// Evicting again is harmless.
	require.NoError(t, shared.Evict(ctx, home.ID))
}
