package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/settings"
	"github.com/vbonduro/cubby/internal/store"
)

// stubPermissions grants role on every home.
type stubPermissions struct {
	mu   sync.Mutex
	role domain.ParticipantRole
}

func (p *stubPermissions) Permission(context.Context, *domain.Home) domain.SharePermission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.SharePermission{Role: p.role}
}

func (p *stubPermissions) set(role domain.ParticipantRole) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
}

type stubSuggester struct {
	emoji string
	err   error
}

func (s stubSuggester) Suggest(context.Context, string, string) (string, error) {
	return s.emoji, s.err
}

// stubPhotoStore is a minimal in-memory photostore.PhotoStore for tests.
type stubPhotoStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newStubPhotoStore() *stubPhotoStore {
	return &stubPhotoStore{saved: make(map[string][]byte)}
}

func (s *stubPhotoStore) Save(_ context.Context, itemID, _ string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("item_%s_%d.jpg", itemID, len(s.saved))
	s.saved[name] = data
	return name, nil
}

func (s *stubPhotoStore) Get(_ context.Context, name string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.saved[name]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

func (s *stubPhotoStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[name]; !ok {
		return domain.ErrNotFound
	}
	delete(s.saved, name)
	return nil
}

func (s *stubPhotoStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fixture struct {
	svc    *InventoryService
	ctrl   *datastore.Controller
	perms  *stubPermissions
	photos *stubPhotoStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	prefs, err := settings.OpenInMemory("settings-" + uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { prefs.Close() })

	ctrl, err := datastore.Open(ctx, datastore.Options{InMemory: true, Settings: prefs})
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })

	f := &fixture{
		ctrl:   ctrl,
		perms:  &stubPermissions{role: domain.RoleOwner},
		photos: newStubPhotoStore(),
	}
	f.svc = NewInventoryService(ctrl, f.perms, stubSuggester{emoji: "📦"}, f.photos, nil)
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) home(t *testing.T, name string) *domain.Home {
	t.Helper()
	h, err := f.svc.CreateHome(context.Background(), name)
	require.NoError(t, err)
	return h
}

func (f *fixture) location(t *testing.T, homeID uuid.UUID, parent *domain.StorageLocation, name string) *domain.StorageLocation {
	t.Helper()
	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID
	}
	loc, err := f.svc.CreateLocation(context.Background(), homeID, parentID, name)
	require.NoError(t, err)
	return loc
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestCreateHomeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: "Cottage"},
		{name: "trimmed", input: "  Flat  "},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("a", maxNameLen+1), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			home, err := f.svc.CreateHome(ctx, tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tc.input), home.Name)
			assert.Equal(t, domain.ScopePrivate, home.Scope)
		})
	}
}

func TestListHomesMergesStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home(t, "Zebra House")

	require.NoError(t, f.ctrl.SharedStore().Update(ctx, func(set *store.Set) error {
		_, err := set.Homes.Create(ctx, &domain.Home{Name: "Alpine Lodge"})
		return err
	}))

	homes, err := f.svc.ListHomes(ctx)
	require.NoError(t, err)
	require.Len(t, homes, 2)
	assert.Equal(t, "Alpine Lodge", homes[0].Name)
	assert.Equal(t, domain.ScopeShared, homes[0].Scope)
	assert.Equal(t, "Zebra House", homes[1].Name)
}

func TestGetHomeNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetHome(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRenameHomeRequiresEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")

	f.perms.set(domain.RoleReadOnly)
	_, err := f.svc.RenameHome(ctx, home.ID, "Barn")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.perms.set(domain.RoleReadWrite)
	renamed, err := f.svc.RenameHome(ctx, home.ID, "Barn")
	require.NoError(t, err)
	assert.Equal(t, "Barn", renamed.Name)
}

func TestDeleteHomeRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Lamp", Emoji: "💡"})
	require.NoError(t, err)
	_, err = f.svc.SetItemPhoto(ctx, item.ID, pngBytes(t, 4, 4))
	require.NoError(t, err)

	f.perms.set(domain.RoleReadWrite)
	assert.ErrorIs(t, f.svc.DeleteHome(ctx, home.ID), domain.ErrForbidden)

	f.perms.set(domain.RoleOwner)
	require.NoError(t, f.svc.DeleteHome(ctx, home.ID))

	_, err = f.svc.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.photos.count())
}

func TestLocationDepthLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")

	var parent *domain.StorageLocation
	for depth := 0; depth < domain.MaxLocationDepth; depth++ {
		loc := f.location(t, home.ID, parent, fmt.Sprintf("Level %d", depth))
		assert.Equal(t, depth, loc.Depth)
		parent = loc
	}

	_, err := f.svc.CreateLocation(ctx, home.ID, &parent.ID, "Too deep")
	assert.ErrorIs(t, err, domain.ErrDepthExceeded)
}

func TestCreateLocationRejectsDuplicateSibling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	garage := f.location(t, home.ID, nil, "Garage")

	_, err := f.svc.CreateLocation(ctx, home.ID, nil, "garage")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	// Same name under a different parent is fine.
	_, err = f.svc.CreateLocation(ctx, home.ID, &garage.ID, "Garage")
	assert.NoError(t, err)
}

func TestCreateLocationParentFromOtherHome(t *testing.T) {
	f := newFixture(t)
	a := f.home(t, "A")
	b := f.home(t, "B")
	shelf := f.location(t, a.ID, nil, "Shelf")

	_, err := f.svc.CreateLocation(context.Background(), b.ID, &shelf.ID, "Box")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRenameLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	f.location(t, home.ID, nil, "Attic")
	cellar := f.location(t, home.ID, nil, "Cellar")

	_, err := f.svc.RenameLocation(ctx, cellar.ID, "ATTIC")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	// Changing only the case of its own name is allowed.
	renamed, err := f.svc.RenameLocation(ctx, cellar.ID, "CELLAR")
	require.NoError(t, err)
	assert.Equal(t, "CELLAR", renamed.Name)
}

func TestMoveLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	garage := f.location(t, home.ID, nil, "Garage")
	shelf := f.location(t, home.ID, garage, "Shelf")
	box := f.location(t, home.ID, shelf, "Box")
	attic := f.location(t, home.ID, nil, "Attic")

	t.Run("cycle through descendant", func(t *testing.T) {
		_, err := f.svc.MoveLocation(ctx, garage.ID, &box.ID)
		assert.ErrorIs(t, err, domain.ErrCycle)
	})

	t.Run("cycle onto itself", func(t *testing.T) {
		_, err := f.svc.MoveLocation(ctx, garage.ID, &garage.ID)
		assert.ErrorIs(t, err, domain.ErrCycle)
	})

	t.Run("descendants follow", func(t *testing.T) {
		moved, err := f.svc.MoveLocation(ctx, shelf.ID, &attic.ID)
		require.NoError(t, err)
		require.NotNil(t, moved.ParentID)
		assert.Equal(t, attic.ID, *moved.ParentID)
		assert.Equal(t, 1, moved.Depth)

		got, err := f.svc.GetLocation(ctx, box.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Depth)
	})

	t.Run("to root", func(t *testing.T) {
		moved, err := f.svc.MoveLocation(ctx, shelf.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)
		assert.Equal(t, 0, moved.Depth)

		got, err := f.svc.GetLocation(ctx, box.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Depth)
	})
}

func TestMoveLocationSubtreeTooDeep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")

	var deepest *domain.StorageLocation
	for depth := 0; depth < domain.MaxLocationDepth-1; depth++ {
		deepest = f.location(t, home.ID, deepest, fmt.Sprintf("Level %d", depth))
	}
	root := f.location(t, home.ID, nil, "Crate")
	f.location(t, home.ID, root, "Tray")

	// Crate would land at the last allowed level, leaving no room for Tray.
	_, err := f.svc.MoveLocation(ctx, root.ID, &deepest.ID)
	assert.ErrorIs(t, err, domain.ErrDepthExceeded)
}

func TestDeleteLocationMustBeEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	garage := f.location(t, home.ID, nil, "Garage")
	shelf := f.location(t, home.ID, garage, "Shelf")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Drill", Emoji: "🔧"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteLocation(ctx, garage.ID), domain.ErrLocationNotEmpty)
	assert.ErrorIs(t, f.svc.DeleteLocation(ctx, shelf.ID), domain.ErrLocationNotEmpty)

	require.NoError(t, f.svc.DeleteItem(ctx, item.ID))
	require.NoError(t, f.svc.DeleteLocation(ctx, shelf.ID))
	require.NoError(t, f.svc.DeleteLocation(ctx, garage.ID))

	locations, err := f.svc.ListLocations(ctx, home.ID)
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestCreateItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")

	t.Run("missing title", func(t *testing.T) {
		_, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: " "})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("tags normalized", func(t *testing.T) {
		item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{
			Title: "Tent",
			Emoji: "⛺",
			Tags:  []string{" Camping ", "camping", "Outdoor  Gear"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"camping", "outdoor gear"}, item.Tags)
		assert.False(t, item.IsPendingAiEmoji)
	})

	t.Run("read only denied", func(t *testing.T) {
		f.perms.set(domain.RoleReadOnly)
		defer f.perms.set(domain.RoleOwner)
		_, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Kettle"})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unknown location", func(t *testing.T) {
		_, err := f.svc.CreateItem(ctx, uuid.New(), ItemInput{Title: "Kettle"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCreateItemSuggestsEmoji(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")

	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Cardboard box"})
	require.NoError(t, err)
	assert.True(t, item.IsPendingAiEmoji)

	require.Eventually(t, func() bool {
		got, err := f.svc.GetItem(ctx, item.ID)
		return err == nil && !got.IsPendingAiEmoji && got.Emoji == "📦"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResumePendingEmoji(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")

	var pending *domain.InventoryItem
	require.NoError(t, f.ctrl.PrivateStore().Update(ctx, func(set *store.Set) error {
		var err error
		pending, err = set.Items.Create(ctx, &domain.InventoryItem{
			LocationID:       shelf.ID,
			Title:            "Mystery crate",
			IsPendingAiEmoji: true,
		})
		return err
	}))

	require.NoError(t, f.svc.ResumePendingEmoji(ctx))
	require.Eventually(t, func() bool {
		got, err := f.svc.GetItem(ctx, pending.ID)
		return err == nil && got.Emoji == "📦"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Lamp", Emoji: "💡"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateItem(ctx, item.ID, ItemInput{
		Title:       "Desk lamp",
		Description: "  brass  ",
		Tags:        []string{"Lighting"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", updated.Title)
	assert.Equal(t, "brass", updated.Description)
	assert.Equal(t, []string{"lighting"}, updated.Tags)
	// An empty emoji keeps the current one.
	assert.Equal(t, "💡", updated.Emoji)
}

func TestMoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	drawer := f.location(t, home.ID, nil, "Drawer")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Scissors", Emoji: "✂️"})
	require.NoError(t, err)

	moved, err := f.svc.MoveItem(ctx, item.ID, drawer.ID)
	require.NoError(t, err)
	assert.Equal(t, drawer.ID, moved.LocationID)

	items, err := f.svc.ListItems(ctx, store.ItemFilter{LocationID: &shelf.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMoveItemAcrossStoresRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Vase", Emoji: "🏺"})
	require.NoError(t, err)

	var sharedLoc *domain.StorageLocation
	require.NoError(t, f.ctrl.SharedStore().Update(ctx, func(set *store.Set) error {
		h, err := set.Homes.Create(ctx, &domain.Home{Name: "Shared"})
		if err != nil {
			return err
		}
		sharedLoc, err = set.Locations.Create(ctx, &domain.StorageLocation{HomeID: h.ID, Name: "Hall"})
		return err
	}))

	_, err = f.svc.MoveItem(ctx, item.ID, sharedLoc.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListItemsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	for _, in := range []ItemInput{
		{Title: "Hammer", Emoji: "🔨", Tags: []string{"tools"}},
		{Title: "Saw", Emoji: "🪚", Tags: []string{"tools"}},
		{Title: "Blanket", Emoji: "🛏️", Description: "wool"},
	} {
		_, err := f.svc.CreateItem(ctx, shelf.ID, in)
		require.NoError(t, err)
	}

	tools, err := f.svc.ListItems(ctx, store.ItemFilter{HomeID: &home.ID, Tag: "Tools"})
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	wool, err := f.svc.ListItems(ctx, store.ItemFilter{Query: "WOOL"})
	require.NoError(t, err)
	require.Len(t, wool, 1)
	assert.Equal(t, "Blanket", wool[0].Title)
}

func TestItemPhoto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")
	item, err := f.svc.CreateItem(ctx, shelf.ID, ItemInput{Title: "Painting", Emoji: "🖼️"})
	require.NoError(t, err)

	_, _, err = f.svc.ItemPhoto(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.SetItemPhoto(ctx, item.ID, []byte("not an image"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, err := f.svc.SetItemPhoto(ctx, item.ID, pngBytes(t, 8, 8))
	require.NoError(t, err)
	assert.NotEmpty(t, first.PhotoFileName)

	second, err := f.svc.SetItemPhoto(ctx, item.ID, pngBytes(t, 16, 16))
	require.NoError(t, err)
	assert.NotEqual(t, first.PhotoFileName, second.PhotoFileName)
	assert.Equal(t, 1, f.photos.count(), "replaced photo should be removed")

	rc, mime, err := f.svc.ItemPhoto(ctx, item.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/jpeg", mime)

	require.NoError(t, f.svc.DeleteItem(ctx, item.ID))
	assert.Zero(t, f.photos.count())
}

func TestRememberLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	home := f.home(t, "Cottage")
	shelf := f.location(t, home.ID, nil, "Shelf")

	last, err := f.svc.LastUsedLocation(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, f.svc.RememberLocation(ctx, shelf.ID))
	last, err = f.svc.LastUsedLocation(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, shelf.ID, last.ID)
}

func TestLocationTreeHeight(t *testing.T) {
	root := &domain.StorageLocation{ID: uuid.New()}
	mid := &domain.StorageLocation{ID: uuid.New(), ParentID: &root.ID}
	leaf := &domain.StorageLocation{ID: uuid.New(), ParentID: &mid.ID}
	other := &domain.StorageLocation{ID: uuid.New(), ParentID: &root.ID}
	tree := newLocationTree([]*domain.StorageLocation{root, mid, leaf, other})

	assert.Equal(t, 2, tree.height(root.ID))
	assert.Equal(t, 0, tree.height(leaf.ID))
	assert.True(t, tree.isAncestorOrSelf(root.ID, leaf.ID))
	assert.False(t, tree.isAncestorOrSelf(other.ID, leaf.ID))
}
