// Package cloud models the cloud container that mirrors both stores and
// holds share records. Client implements Container over a Backend; the
// memory and redis subpackages provide backends.
package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

// AccountStatus is the provider's view of the signed-in account.
type AccountStatus string

const (
	StatusAvailable              AccountStatus = "available"
	StatusNoAccount              AccountStatus = "noAccount"
	StatusRestricted             AccountStatus = "restricted"
	StatusCouldNotDetermine      AccountStatus = "couldNotDetermine"
	StatusTemporarilyUnavailable AccountStatus = "temporarilyUnavailable"
)

// ShareMetadata identifies an invitation being accepted.
type ShareMetadata struct {
	ShareID string `json:"share_id"`
	URL     string `json:"url,omitempty"`
}

const shareURLPrefix = "cubby://share/"

func ShareURL(shareID string) string { return shareURLPrefix + shareID }

// ParseShareURL extracts invitation metadata from a share URL.
func ParseShareURL(raw string) (ShareMetadata, error) {
	id, ok := strings.CutPrefix(raw, shareURLPrefix)
	if !ok || id == "" {
		return ShareMetadata{}, domain.NewValidationError("url", "not a share link")
	}
	return ShareMetadata{ShareID: id, URL: raw}, nil
}

// Container is everything the app needs from the cloud provider.
type Container interface {
	AccountStatus(ctx context.Context) (AccountStatus, error)
	CurrentUserID(ctx context.Context) (string, error)

	SaveShare(ctx context.Context, homeID uuid.UUID, title string) (*domain.Share, error)
	FetchShare(ctx context.Context, shareID string) (*domain.Share, error)
	DeleteShare(ctx context.Context, shareID string) error
	AddParticipant(ctx context.Context, shareID, userID string, role domain.ParticipantRole) (*domain.Share, error)
	RemoveParticipant(ctx context.Context, shareID, userID string) (*domain.Share, error)
	AcceptShare(ctx context.Context, md ShareMetadata) (*domain.Share, error)
	FetchZone(ctx context.Context, shareID string) ([]domain.Record, error)
	// FetchPrivateZone returns every record stored for the current user's
	// private store, including edits participants made to shared homes.
	FetchPrivateZone(ctx context.Context) ([]domain.Record, error)

	Push(ctx context.Context, scope domain.Scope, records []domain.Record) error
	Subscribe(ctx context.Context, scope domain.Scope, handler func([]domain.Record)) (func(), error)
}

// Backend is the storage and fan-out primitive set a Client is built on.
type Backend interface {
	Ping(ctx context.Context) error

	GetRecord(ctx context.Context, zone, entity, id string) (*domain.Record, error)
	// PutRecord stores r in zone, or removes it when r is a tombstone.
	PutRecord(ctx context.Context, zone string, r domain.Record) error
	ZoneRecords(ctx context.Context, zone string) ([]domain.Record, error)
	DeleteZone(ctx context.Context, zone string) error

	GetShare(ctx context.Context, id string) (*domain.Share, error)
	ListShares(ctx context.Context) ([]*domain.Share, error)
	PutShare(ctx context.Context, share *domain.Share) error
	DeleteShare(ctx context.Context, id string) error

	Publish(ctx context.Context, channel string, records []domain.Record) error
	Subscribe(ctx context.Context, channel string, handler func([]domain.Record)) (func(), error)
}

func privateZone(userID string) string { return "private/" + userID }
func shareZone(shareID string) string  { return "share/" + shareID }

func userChannel(userID string, scope domain.Scope) string {
	return fmt.Sprintf("user/%s/%s", userID, scope)
}

// Aggregate returns the records that make up one home: the home itself,
// its locations and the items in them.
func Aggregate(records []domain.Record, homeID string) []domain.Record {
	locations := map[string]bool{}
	for _, r := range records {
		if r.Entity == domain.EntityLocation && r.Fields["home_id"] == homeID {
			locations[r.ID] = true
		}
	}

	var out []domain.Record
	for _, r := range records {
		switch {
		case r.Entity == domain.EntityHome && r.ID == homeID,
			r.Entity == domain.EntityLocation && locations[r.ID],
			r.Entity == domain.EntityItem && locations[r.Fields["location_id"]]:
			out = append(out, r)
		}
	}
	return out
}
