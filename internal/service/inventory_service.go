package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/emoji"
	"github.com/vbonduro/cubby/internal/imaging"
	"github.com/vbonduro/cubby/internal/photostore"
	"github.com/vbonduro/cubby/internal/store"
)

const maxNameLen = 200

// storeController is the subset of datastore.Controller InventoryService
// requires.
type storeController interface {
	PrivateStore() *datastore.Store
	Store(scope domain.Scope) *datastore.Store
	RememberLocation(ctx context.Context, loc *domain.StorageLocation) error
	LastUsedLocation(ctx context.Context) (*domain.StorageLocation, error)
}

// permissions is the subset of sharing.Service InventoryService requires.
type permissions interface {
	Permission(ctx context.Context, home *domain.Home) domain.SharePermission
}

type InventoryService struct {
	stores   storeController
	perms    permissions
	emoji    emoji.Suggester
	photoStg photostore.PhotoStore
	logger   *slog.Logger

	tasks     sync.WaitGroup
	tasksCtx  context.Context
	stopTasks context.CancelFunc
}

// NewInventoryService wires the service. suggester and photoStg may be nil,
// which disables emoji suggestions and photos respectively.
func NewInventoryService(
	stores storeController,
	perms permissions,
	suggester emoji.Suggester,
	photoStg photostore.PhotoStore,
	logger *slog.Logger,
) *InventoryService {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InventoryService{
		stores:    stores,
		perms:     perms,
		emoji:     suggester,
		photoStg:  photoStg,
		logger:    logger,
		tasksCtx:  ctx,
		stopTasks: cancel,
	}
}

// Close cancels background emoji tasks and waits for them to finish.
func (s *InventoryService) Close() {
	s.stopTasks()
	s.tasks.Wait()
}

func (s *InventoryService) scopes() []*datastore.Store {
	out := []*datastore.Store{s.stores.PrivateStore()}
	if shared := s.stores.Store(domain.ScopeShared); shared != nil {
		out = append(out, shared)
	}
	return out
}

func cleanName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewValidationError(field, "required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", domain.NewValidationError(field, fmt.Sprintf("must be at most %d characters", maxNameLen))
	}
	return name, nil
}

func (s *InventoryService) requirePermission(ctx context.Context, home *domain.Home, allowed func(domain.SharePermission) bool) error {
	if s.perms == nil {
		return nil
	}
	if !allowed(s.perms.Permission(ctx, home)) {
		return fmt.Errorf("%w: not allowed to change %q", domain.ErrForbidden, home.Name)
	}
	return nil
}

// Homes

func (s *InventoryService) CreateHome(ctx context.Context, name string) (*domain.Home, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	var home *domain.Home
	err = s.stores.PrivateStore().Update(ctx, func(set *store.Set) error {
		home, err = set.Homes.Create(ctx, &domain.Home{Name: name})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("home created", "home_id", home.ID)
	return home, nil
}

// GetHome finds a home in either store. It returns ErrNotFound if neither
// store has it.
func (s *InventoryService) GetHome(ctx context.Context, id uuid.UUID) (*domain.Home, error) {
	for _, st := range s.scopes() {
		home, err := st.View().Homes.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get home: %w", err)
		}
		if home != nil {
			return home, nil
		}
	}
	return nil, fmt.Errorf("home %s: %w", id, domain.ErrNotFound)
}

// ListHomes returns the homes of both stores ordered by name.
func (s *InventoryService) ListHomes(ctx context.Context) ([]*domain.Home, error) {
	homes := []*domain.Home{}
	for _, st := range s.scopes() {
		list, err := st.View().Homes.List(ctx)
		if err != nil {
			return nil, err
		}
		homes = append(homes, list...)
	}
	sort.SliceStable(homes, func(i, j int) bool {
		return strings.ToLower(homes[i].Name) < strings.ToLower(homes[j].Name)
	})
	return homes, nil
}

func (s *InventoryService) RenameHome(ctx context.Context, id uuid.UUID, name string) (*domain.Home, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	home, err := s.GetHome(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanEdit); err != nil {
		return nil, err
	}

	st := s.stores.Store(home.Scope)
	if err := st.Update(ctx, func(set *store.Set) error {
		return set.Homes.Rename(ctx, id, name)
	}); err != nil {
		return nil, fmt.Errorf("failed to rename home: %w", err)
	}
	return st.View().Homes.GetByID(ctx, id)
}

// DeleteHome removes a home with all its locations and items. Only the
// owner may delete a home.
func (s *InventoryService) DeleteHome(ctx context.Context, id uuid.UUID) error {
	home, err := s.GetHome(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.IsOwner); err != nil {
		return err
	}

	st := s.stores.Store(home.Scope)
	items, err := st.View().Items.List(ctx, store.ItemFilter{HomeID: &id})
	if err != nil {
		return err
	}
	if err := st.Update(ctx, func(set *store.Set) error {
		if err := set.Shares.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return set.Homes.Delete(ctx, id)
	}); err != nil {
		return fmt.Errorf("failed to delete home: %w", err)
	}

	for _, item := range items {
		s.deletePhotoFile(ctx, item.PhotoFileName)
	}
	s.logger.Info("home deleted", "home_id", id, "items", len(items))
	return nil
}

// Locations

func (s *InventoryService) GetLocation(ctx context.Context, id uuid.UUID) (*domain.StorageLocation, error) {
	for _, st := range s.scopes() {
		loc, err := st.View().Locations.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get location: %w", err)
		}
		if loc != nil {
			return loc, nil
		}
	}
	return nil, fmt.Errorf("location %s: %w", id, domain.ErrNotFound)
}

// ListLocations returns a home's locations, parents before children.
func (s *InventoryService) ListLocations(ctx context.Context, homeID uuid.UUID) ([]*domain.StorageLocation, error) {
	home, err := s.GetHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	locations, err := s.stores.Store(home.Scope).View().Locations.ListByHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if locations == nil {
		locations = []*domain.StorageLocation{}
	}
	return locations, nil
}

// CreateLocation adds a location under parentID, or at the root of the home
// when parentID is nil.
func (s *InventoryService) CreateLocation(ctx context.Context, homeID uuid.UUID, parentID *uuid.UUID, name string) (*domain.StorageLocation, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	home, err := s.GetHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanCreateLocations); err != nil {
		return nil, err
	}

	var loc *domain.StorageLocation
	err = s.stores.Store(home.Scope).Update(ctx, func(set *store.Set) error {
		depth := 0
		if parentID != nil {
			parent, err := set.Locations.GetByID(ctx, *parentID)
			if err != nil {
				return err
			}
			if parent == nil || parent.HomeID != homeID {
				return fmt.Errorf("parent location %s: %w", parentID, domain.ErrNotFound)
			}
			depth = parent.Depth + 1
		}
		if depth >= domain.MaxLocationDepth {
			return domain.ErrDepthExceeded
		}
		if err := checkSiblingName(ctx, set, homeID, parentID, name, uuid.Nil); err != nil {
			return err
		}

		loc, err = set.Locations.Create(ctx, &domain.StorageLocation{
			HomeID:   homeID,
			ParentID: parentID,
			Name:     name,
			Depth:    depth,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// checkSiblingName rejects name if another child of parentID (other than
// self) already uses it, ignoring case.
func checkSiblingName(ctx context.Context, set *store.Set, homeID uuid.UUID, parentID *uuid.UUID, name string, self uuid.UUID) error {
	siblings, err := set.Locations.Children(ctx, homeID, parentID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID != self && strings.EqualFold(sib.Name, name) {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateName, name)
		}
	}
	return nil
}

func (s *InventoryService) RenameLocation(ctx context.Context, id uuid.UUID, name string) (*domain.StorageLocation, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	loc, home, err := s.locationWithHome(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanEdit); err != nil {
		return nil, err
	}

	st := s.stores.Store(loc.Scope)
	if err := st.Update(ctx, func(set *store.Set) error {
		if err := checkSiblingName(ctx, set, loc.HomeID, loc.ParentID, name, loc.ID); err != nil {
			return err
		}
		return set.Locations.Rename(ctx, id, name)
	}); err != nil {
		return nil, err
	}
	return st.View().Locations.GetByID(ctx, id)
}

// MoveLocation re-parents a location within its home. Moving a location
// under itself or one of its descendants is a cycle; the whole subtree must
// still fit within MaxLocationDepth afterwards.
func (s *InventoryService) MoveLocation(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) (*domain.StorageLocation, error) {
	loc, home, err := s.locationWithHome(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanEdit); err != nil {
		return nil, err
	}

	st := s.stores.Store(loc.Scope)
	err = st.Update(ctx, func(set *store.Set) error {
		all, err := set.Locations.ListByHome(ctx, loc.HomeID)
		if err != nil {
			return err
		}
		tree := newLocationTree(all)

		newDepth := 0
		if newParentID != nil {
			parent, ok := tree.byID[*newParentID]
			if !ok {
				return fmt.Errorf("parent location %s: %w", newParentID, domain.ErrNotFound)
			}
			if tree.isAncestorOrSelf(id, parent.ID) {
				return domain.ErrCycle
			}
			newDepth = parent.Depth + 1
		}
		if newDepth+tree.height(id) >= domain.MaxLocationDepth {
			return domain.ErrDepthExceeded
		}
		if err := checkSiblingName(ctx, set, loc.HomeID, newParentID, loc.Name, loc.ID); err != nil {
			return err
		}

		if err := set.Locations.SetParent(ctx, id, newParentID, newDepth); err != nil {
			return err
		}
		return tree.walk(id, newDepth, func(child *domain.StorageLocation, depth int) error {
			if child.Depth == depth {
				return nil
			}
			return set.Locations.SetDepth(ctx, child.ID, depth)
		})
	})
	if err != nil {
		return nil, err
	}
	return st.View().Locations.GetByID(ctx, id)
}

// DeleteLocation removes an empty location.
func (s *InventoryService) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	loc, home, err := s.locationWithHome(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanDeleteLocations); err != nil {
		return err
	}

	return s.stores.Store(loc.Scope).Update(ctx, func(set *store.Set) error {
		children, items, err := set.Locations.CountContents(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 || items > 0 {
			return domain.ErrLocationNotEmpty
		}
		return set.Locations.Delete(ctx, id)
	})
}

func (s *InventoryService) locationWithHome(ctx context.Context, id uuid.UUID) (*domain.StorageLocation, *domain.Home, error) {
	loc, err := s.GetLocation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	home, err := s.stores.Store(loc.Scope).View().Homes.GetByID(ctx, loc.HomeID)
	if err != nil {
		return nil, nil, err
	}
	if home == nil {
		return nil, nil, fmt.Errorf("home %s: %w", loc.HomeID, domain.ErrNotFound)
	}
	return loc, home, nil
}

// RememberLocation records id as the last location the user filed into.
func (s *InventoryService) RememberLocation(ctx context.Context, id uuid.UUID) error {
	loc, err := s.GetLocation(ctx, id)
	if err != nil {
		return err
	}
	return s.stores.RememberLocation(ctx, loc)
}

func (s *InventoryService) LastUsedLocation(ctx context.Context) (*domain.StorageLocation, error) {
	return s.stores.LastUsedLocation(ctx)
}

// Items

// ItemInput carries the user-editable fields of an item.
type ItemInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Emoji       string   `json:"emoji"`
	Tags        []string `json:"tags"`
}

func (in ItemInput) clean() (ItemInput, error) {
	title, err := cleanName("title", in.Title)
	if err != nil {
		return in, err
	}
	tags, err := domain.NormalizeTags(in.Tags)
	if err != nil {
		return in, err
	}
	return ItemInput{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Emoji:       strings.TrimSpace(in.Emoji),
		Tags:        tags,
	}, nil
}

func (s *InventoryService) GetItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	for _, st := range s.scopes() {
		item, err := st.View().Items.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get item: %w", err)
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
}

func (s *InventoryService) itemWithHome(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, *domain.Home, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	_, home, err := s.locationWithHome(ctx, item.LocationID)
	if err != nil {
		return nil, nil, err
	}
	return item, home, nil
}

// ListItems searches both stores. A filter naming a home or location is
// answered by the store that holds it.
func (s *InventoryService) ListItems(ctx context.Context, f store.ItemFilter) ([]*domain.InventoryItem, error) {
	stores := s.scopes()
	switch {
	case f.LocationID != nil:
		loc, err := s.GetLocation(ctx, *f.LocationID)
		if err != nil {
			return nil, err
		}
		stores = []*datastore.Store{s.stores.Store(loc.Scope)}
	case f.HomeID != nil:
		home, err := s.GetHome(ctx, *f.HomeID)
		if err != nil {
			return nil, err
		}
		stores = []*datastore.Store{s.stores.Store(home.Scope)}
	}

	items := []*domain.InventoryItem{}
	for _, st := range stores {
		list, err := st.View().Items.List(ctx, f)
		if err != nil {
			return nil, err
		}
		items = append(items, list...)
	}
	return items, nil
}

// CreateItem files a new item. Items created without an emoji get one
// suggested in the background.
func (s *InventoryService) CreateItem(ctx context.Context, locationID uuid.UUID, in ItemInput) (*domain.InventoryItem, error) {
	in, err := in.clean()
	if err != nil {
		return nil, err
	}
	loc, home, err := s.locationWithHome(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanAddItems); err != nil {
		return nil, err
	}

	var item *domain.InventoryItem
	err = s.stores.Store(loc.Scope).Update(ctx, func(set *store.Set) error {
		item, err = set.Items.Create(ctx, &domain.InventoryItem{
			LocationID:       locationID,
			Title:            in.Title,
			Description:      in.Description,
			Emoji:            in.Emoji,
			IsPendingAiEmoji: in.Emoji == "",
			Tags:             in.Tags,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if item.IsPendingAiEmoji {
		s.suggestEmojiAsync(item)
	}
	return item, nil
}

// UpdateItem replaces the editable fields of an item. Setting an emoji
// cancels any pending suggestion.
func (s *InventoryService) UpdateItem(ctx context.Context, id uuid.UUID, in ItemInput) (*domain.InventoryItem, error) {
	in, err := in.clean()
	if err != nil {
		return nil, err
	}
	item, home, err := s.itemWithHome(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanEditItems); err != nil {
		return nil, err
	}

	st := s.stores.Store(item.Scope)
	err = st.Update(ctx, func(set *store.Set) error {
		current, err := set.Items.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		current.Title = in.Title
		current.Description = in.Description
		current.Tags = in.Tags
		if in.Emoji != "" {
			current.Emoji = in.Emoji
			current.IsPendingAiEmoji = false
		}
		return set.Items.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return st.View().Items.GetByID(ctx, id)
}

// MoveItem files an item under another location of the same store.
func (s *InventoryService) MoveItem(ctx context.Context, id, locationID uuid.UUID) (*domain.InventoryItem, error) {
	item, fromHome, err := s.itemWithHome(ctx, id)
	if err != nil {
		return nil, err
	}
	target, toHome, err := s.locationWithHome(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if target.Scope != item.Scope {
		return nil, domain.NewValidationError("location_id", "items cannot move between private and shared homes")
	}
	if err := s.requirePermission(ctx, fromHome, domain.SharePermission.CanEditItems); err != nil {
		return nil, err
	}
	if toHome.ID != fromHome.ID {
		if err := s.requirePermission(ctx, toHome, domain.SharePermission.CanAddItems); err != nil {
			return nil, err
		}
	}

	st := s.stores.Store(item.Scope)
	if err := st.Update(ctx, func(set *store.Set) error {
		current, err := set.Items.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		current.LocationID = locationID
		return set.Items.Update(ctx, current)
	}); err != nil {
		return nil, err
	}
	return st.View().Items.GetByID(ctx, id)
}

func (s *InventoryService) DeleteItem(ctx context.Context, id uuid.UUID) error {
	item, home, err := s.itemWithHome(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanDeleteItems); err != nil {
		return err
	}

	if err := s.stores.Store(item.Scope).Update(ctx, func(set *store.Set) error {
		return set.Items.Delete(ctx, id)
	}); err != nil {
		return err
	}
	s.deletePhotoFile(ctx, item.PhotoFileName)
	return nil
}

// Photos

var ErrPhotosDisabled = errors.New("photo storage is not configured")

// SetItemPhoto normalizes the image, stores it and points the item at it.
// The previous photo file is removed.
func (s *InventoryService) SetItemPhoto(ctx context.Context, id uuid.UUID, data []byte) (*domain.InventoryItem, error) {
	if s.photoStg == nil {
		return nil, ErrPhotosDisabled
	}
	item, home, err := s.itemWithHome(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePermission(ctx, home, domain.SharePermission.CanEditItems); err != nil {
		return nil, err
	}

	photo, err := imaging.Normalize(data)
	if err != nil {
		return nil, err
	}
	fileName, err := s.photoStg.Save(ctx, id.String(), photo.MIME, bytes.NewReader(photo.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to save photo: %w", err)
	}
	s.logger.Debug("photo saved", "item_id", id, "file", fileName, "width", photo.Width, "height", photo.Height)

	st := s.stores.Store(item.Scope)
	err = st.Update(ctx, func(set *store.Set) error {
		current, err := set.Items.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		current.PhotoFileName = fileName
		return set.Items.Update(ctx, current)
	})
	if err != nil {
		s.deletePhotoFile(ctx, fileName)
		return nil, err
	}

	s.deletePhotoFile(ctx, item.PhotoFileName)
	return st.View().Items.GetByID(ctx, id)
}

// ItemPhoto opens the item's photo. The caller closes the reader.
func (s *InventoryService) ItemPhoto(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	if s.photoStg == nil {
		return nil, "", ErrPhotosDisabled
	}
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if item.PhotoFileName == "" {
		return nil, "", fmt.Errorf("photo for item %s: %w", id, domain.ErrNotFound)
	}
	return s.photoStg.Get(ctx, item.PhotoFileName)
}

func (s *InventoryService) deletePhotoFile(ctx context.Context, fileName string) {
	if fileName == "" || s.photoStg == nil {
		return
	}
	if err := s.photoStg.Delete(ctx, fileName); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("failed to delete photo file", "file", fileName, "error", err)
	}
}
