package service

import (
	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

// locationTree indexes the locations of one home by id and parent.
type locationTree struct {
	byID     map[uuid.UUID]*domain.StorageLocation
	children map[uuid.UUID][]*domain.StorageLocation
}

func newLocationTree(locations []*domain.StorageLocation) *locationTree {
	t := &locationTree{
		byID:     make(map[uuid.UUID]*domain.StorageLocation, len(locations)),
		children: make(map[uuid.UUID][]*domain.StorageLocation),
	}
	for _, loc := range locations {
		t.byID[loc.ID] = loc
		if loc.ParentID != nil {
			t.children[*loc.ParentID] = append(t.children[*loc.ParentID], loc)
		}
	}
	return t
}

// isAncestorOrSelf reports whether ancestor is id or lies on the path from id
// to its root.
func (t *locationTree) isAncestorOrSelf(ancestor, id uuid.UUID) bool {
	seen := make(map[uuid.UUID]bool)
	for cur, ok := t.byID[id]; ok; {
		if cur.ID == ancestor {
			return true
		}
		if cur.ParentID == nil || seen[cur.ID] {
			return false
		}
		seen[cur.ID] = true
		cur, ok = t.byID[*cur.ParentID]
	}
	return false
}

// height is the number of levels below id; a leaf has height 0.
func (t *locationTree) height(id uuid.UUID) int {
	h := 0
	for _, child := range t.children[id] {
		if ch := t.height(child.ID) + 1; ch > h {
			h = ch
		}
	}
	return h
}

// walk visits the descendants of id with the depth they would have if id
// sat at depth.
func (t *locationTree) walk(id uuid.UUID, depth int, fn func(*domain.StorageLocation, int) error) error {
	for _, child := range t.children[id] {
		if err := fn(child, depth+1); err != nil {
			return err
		}
		if err := t.walk(child.ID, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
