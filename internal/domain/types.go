package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxLocationDepth bounds the storage location tree. Valid depths are
// 0 through MaxLocationDepth-1.
const MaxLocationDepth = 10

// Scope names the store an object lives in.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeShared  Scope = "shared"
)

func (s Scope) Valid() bool {
	return s == ScopePrivate || s == ScopeShared
}

// Object is anything read from one of the two stores.
type Object interface {
	StoreScope() Scope
}

type Home struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Scope      Scope     `json:"scope"`
}

func (h *Home) StoreScope() Scope { return h.Scope }

type StorageLocation struct {
	ID         uuid.UUID  `json:"id"`
	HomeID     uuid.UUID  `json:"home_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	Name       string     `json:"name"`
	Depth      int        `json:"depth"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	Scope      Scope      `json:"scope"`
}

func (l *StorageLocation) StoreScope() Scope { return l.Scope }

// IsRoot reports whether the location sits directly under its home.
func (l *StorageLocation) IsRoot() bool { return l.ParentID == nil }

type InventoryItem struct {
	ID               uuid.UUID `json:"id"`
	LocationID       uuid.UUID `json:"location_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	PhotoFileName    string    `json:"photo_file_name,omitempty"`
	Emoji            string    `json:"emoji,omitempty"`
	IsPendingAiEmoji bool      `json:"is_pending_ai_emoji"`
	Tags             []string  `json:"tags"`
	CreatedAt        time.Time `json:"created_at"`
	ModifiedAt       time.Time `json:"modified_at"`
	Scope            Scope     `json:"scope"`
}

func (i *InventoryItem) StoreScope() Scope { return i.Scope }
