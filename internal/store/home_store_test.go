package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/domain"
)

func TestHomeStoreCreateKeepsID(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	id := uuid.New()

	home, err := s.Homes.Create(ctx, &domain.Home{ID: id, Name: "Cottage"})
	require.NoError(t, err)
	assert.Equal(t, id, home.ID)
	assert.Equal(t, "Cottage", home.Name)
	assert.Equal(t, domain.ScopePrivate, home.Scope)
	assert.False(t, home.CreatedAt.IsZero())
}

func TestHomeStoreGetByIDNotFound(t *testing.T) {
	s := openTestSet(t)

	home, err := s.Homes.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, home)
}

func TestHomeStoreListSorted(t *testing.T) {
	s := openTestSet(t)
	createHome(t, s, "Main")
	createHome(t, s, "Cabin")

	homes, err := s.Homes.List(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 2)
	assert.Equal(t, "Cabin", homes[0].Name)
	assert.Equal(t, "Main", homes[1].Name)
}

func TestHomeStoreRename(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")

	require.NoError(t, s.Homes.Rename(ctx, home.ID, "Apartment"))

	got, err := s.Homes.GetByID(ctx, home.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apartment", got.Name)
}

func TestHomeStoreRenameNotFound(t *testing.T) {
	s := openTestSet(t)

	err := s.Homes.Rename(context.Background(), uuid.New(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHomeStoreDeleteCascades(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	garage := createLocation(t, s, home, nil, "Garage")
	shelf := createLocation(t, s, home, garage, "Shelf")
	item := createItem(t, s, shelf, "Drill")

	require.NoError(t, s.Homes.Delete(ctx, home.ID))

	gotLoc, err := s.Locations.GetByID(ctx, shelf.ID)
	require.NoError(t, err)
	assert.Nil(t, gotLoc)
	gotItem, err := s.Items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, gotItem)

	edits, err := s.History.PendingEditsFor(ctx, domain.EntityItem, item.ID.String())
	require.NoError(t, err)
	assert.True(t, edits.Deleted)
	edits, err = s.History.PendingEditsFor(ctx, domain.EntityLocation, garage.ID.String())
	require.NoError(t, err)
	assert.True(t, edits.Deleted)
}

func TestHomeStorePutUpserts(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")

	home.Name = "Renamed remotely"
	require.NoError(t, s.Homes.Put(ctx, home, []string{"name"}))

	got, err := s.Homes.GetByID(ctx, home.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed remotely", got.Name)

	fresh := &domain.Home{ID: uuid.New(), Name: "New", CreatedAt: home.CreatedAt, ModifiedAt: home.ModifiedAt}
	require.NoError(t, s.Homes.Put(ctx, fresh, homeColumns))
	got, err = s.Homes.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
