package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/domain"
)

func TestItemStoreCreate(t *testing.T) {
	s := openTestSet(t)
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")

	item, err := s.Items.Create(context.Background(), &domain.InventoryItem{
		LocationID:       loc.ID,
		Title:            "Whisk",
		Description:      "balloon",
		IsPendingAiEmoji: true,
		Tags:             []string{"baking", "tools"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, item.ID)
	assert.Equal(t, loc.ID, item.LocationID)
	assert.Equal(t, "balloon", item.Description)
	assert.True(t, item.IsPendingAiEmoji)
	assert.Equal(t, []string{"baking", "tools"}, item.Tags)
}

func TestItemStoreCreateUnknownLocation(t *testing.T) {
	s := openTestSet(t)

	_, err := s.Items.Create(context.Background(), &domain.InventoryItem{LocationID: uuid.New(), Title: "Orphan"})
	assert.Error(t, err)
}

func TestItemStoreCreateEmptyTags(t *testing.T) {
	s := openTestSet(t)
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")

	item := createItem(t, s, loc, "Spoon")
	assert.Empty(t, item.Tags)
}

func TestItemStoreListFilters(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	main := createHome(t, s, "Main")
	cabin := createHome(t, s, "Cabin")
	kitchen := createLocation(t, s, main, nil, "Kitchen")
	shed := createLocation(t, s, cabin, nil, "Shed")

	createItem(t, s, kitchen, "Whole Milk", "dairy")
	createItem(t, s, kitchen, "Oat Milk")
	createItem(t, s, shed, "Axe", "tools")

	all, err := s.Items.List(ctx, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Axe", all[0].Title)

	byHome, err := s.Items.List(ctx, ItemFilter{HomeID: &cabin.ID})
	require.NoError(t, err)
	require.Len(t, byHome, 1)
	assert.Equal(t, "Axe", byHome[0].Title)

	byLocation, err := s.Items.List(ctx, ItemFilter{LocationID: &kitchen.ID})
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	byQuery, err := s.Items.List(ctx, ItemFilter{Query: "MILK"})
	require.NoError(t, err)
	assert.Len(t, byQuery, 2)

	byTag, err := s.Items.List(ctx, ItemFilter{Tag: " Dairy "})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "Whole Milk", byTag[0].Title)

	limited, err := s.Items.List(ctx, ItemFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestItemStoreListQueryIsLiteral(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Closet")

	createItem(t, s, loc, "100% cotton")
	createItem(t, s, loc, "1000 cotton")
	createItem(t, s, loc, "a_b")
	createItem(t, s, loc, "axb")
	createItem(t, s, loc, `c\d`)

	percent, err := s.Items.List(ctx, ItemFilter{Query: "%"})
	require.NoError(t, err)
	require.Len(t, percent, 1)
	assert.Equal(t, "100% cotton", percent[0].Title)

	underscore, err := s.Items.List(ctx, ItemFilter{Query: "a_b"})
	require.NoError(t, err)
	require.Len(t, underscore, 1)
	assert.Equal(t, "a_b", underscore[0].Title)

	backslash, err := s.Items.List(ctx, ItemFilter{Query: `\`})
	require.NoError(t, err)
	require.Len(t, backslash, 1)
	assert.Equal(t, `c\d`, backslash[0].Title)
}

func TestItemStoreListPendingEmoji(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")
	createItem(t, s, loc, "Done")
	_, err := s.Items.Create(ctx, &domain.InventoryItem{LocationID: loc.ID, Title: "Waiting", IsPendingAiEmoji: true})
	require.NoError(t, err)

	pending, err := s.Items.List(ctx, ItemFilter{PendingEmoji: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Waiting", pending[0].Title)
}

func TestItemStoreUpdateRecordsChangedColumns(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")
	item := createItem(t, s, loc, "Whisk")

	pending, err := s.History.PendingLocal(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, s.History.MarkPushed(ctx, pending[len(pending)-1].Seq))

	item.Emoji = "🥄"
	item.Tags = []string{"baking"}
	require.NoError(t, s.Items.Update(ctx, item))

	edits, err := s.History.PendingEditsFor(ctx, domain.EntityItem, item.ID.String())
	require.NoError(t, err)
	assert.True(t, edits.Columns["emoji"])
	assert.True(t, edits.Columns["tags"])
	assert.False(t, edits.Columns["title"])
	assert.False(t, edits.Inserted)

	got, err := s.Items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "🥄", got.Emoji)
	assert.Equal(t, []string{"baking"}, got.Tags)
}

func TestItemStoreUpdateNoChangeIsNoop(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")
	item := createItem(t, s, loc, "Whisk")

	before, err := s.History.Since(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, s.Items.Update(ctx, item))

	after, err := s.History.Since(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestItemStoreUpdateNotFound(t *testing.T) {
	s := openTestSet(t)

	err := s.Items.Update(context.Background(), &domain.InventoryItem{ID: uuid.New(), Title: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestItemStoreDelete(t *testing.T) {
	s := openTestSet(t)
	ctx := context.Background()
	home := createHome(t, s, "Main")
	loc := createLocation(t, s, home, nil, "Kitchen")
	item := createItem(t, s, loc, "Whisk")

	require.NoError(t, s.Items.Delete(ctx, item.ID))
	got, err := s.Items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.Items.Delete(ctx, item.ID), domain.ErrNotFound)
}
