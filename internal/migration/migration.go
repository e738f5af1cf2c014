// Package migration moves the legacy inventory into the private store once.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/events"
	"github.com/vbonduro/cubby/internal/legacy"
	"github.com/vbonduro/cubby/internal/metrics"
	"github.com/vbonduro/cubby/internal/store"
)

type Outcome string

const (
	SkippedAlreadyCompleted Outcome = "skipped_already_completed"
	Migrated                Outcome = "migrated"
	FailedWithReset         Outcome = "failed_with_reset"
)

// RecoveryMessage is shown to the user after a failed migration reset the
// stores.
const RecoveryMessage = "We couldn't move your existing inventory to the new storage. " +
	"Your data has been reset so the app can start cleanly."

// RecoveryEvent is published once after a failed migration has been reset.
type RecoveryEvent struct {
	Message string    `json:"message"`
	Cause   string    `json:"cause"`
	At      time.Time `json:"at"`
}

type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*legacy.Snapshot, error)
}

// Flag persists whether the migration has completed.
type Flag interface {
	MigrationCompleted(ctx context.Context) (bool, error)
	SetMigrationCompleted(ctx context.Context, done bool) error
}

// Target is the store pair the migration writes to and resets on failure.
type Target interface {
	PrivateStore() *datastore.Store
	Reset(ctx context.Context) error
}

type Service struct {
	source   SnapshotProvider
	flag     Flag
	target   Target
	recovery *events.Broadcaster[RecoveryEvent]
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(source SnapshotProvider, flag Flag, target Target, recovery *events.Broadcaster[RecoveryEvent], m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		source:   source,
		flag:     flag,
		target:   target,
		recovery: recovery,
		metrics:  m,
		logger:   logger,
	}
}

// Report counts what a successful run imported.
type Report struct {
	Homes     int
	Locations int
	Items     int
}

// RunIfNeeded migrates the legacy inventory unless a previous run completed.
// Any failure resets both stores, publishes a RecoveryEvent and returns
// FailedWithReset with a nil error. Only a failing reset is returned as an
// error.
func (s *Service) RunIfNeeded(ctx context.Context) (Outcome, error) {
	done, err := s.flag.MigrationCompleted(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read migration flag: %w", err)
	}
	if done {
		s.logger.Debug("legacy migration already completed")
		s.metrics.MigrationOutcome(string(SkippedAlreadyCompleted))
		return SkippedAlreadyCompleted, nil
	}

	report, err := s.migrate(ctx)
	if err != nil {
		return s.recover(ctx, err)
	}

	s.logger.Info("legacy migration completed",
		"homes", report.Homes, "locations", report.Locations, "items", report.Items)
	s.metrics.MigrationOutcome(string(Migrated))
	return Migrated, nil
}

func (s *Service) migrate(ctx context.Context) (Report, error) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read legacy snapshot: %w", err)
	}

	var report Report
	err = s.target.PrivateStore().Update(ctx, func(set *store.Set) error {
		var err error
		report, err = importSnapshot(ctx, set, snap)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	if err := s.flag.SetMigrationCompleted(ctx, true); err != nil {
		return Report{}, fmt.Errorf("failed to persist migration flag: %w", err)
	}
	return report, nil
}

func (s *Service) recover(ctx context.Context, cause error) (Outcome, error) {
	s.logger.Error("legacy migration failed, resetting stores", "error", cause)

	if err := s.target.Reset(ctx); err != nil {
		return "", fmt.Errorf("failed to reset stores after migration failure (%v): %w", cause, err)
	}

	if s.recovery != nil {
		s.recovery.Publish(RecoveryEvent{
			Message: RecoveryMessage,
			Cause:   cause.Error(),
			At:      time.Now().UTC(),
		})
	}
	s.metrics.MigrationOutcome(string(FailedWithReset))
	return FailedWithReset, nil
}

// importSnapshot creates every legacy row with its id preserved. Locations
// are written in two passes: scalars and home first, then parents re-linked
// through the id table built in the first pass.
func importSnapshot(ctx context.Context, set *store.Set, snap *legacy.Snapshot) (Report, error) {
	homes := make(map[string]uuid.UUID, len(snap.Homes))
	for _, h := range snap.Homes {
		id, err := uuid.Parse(h.ID)
		if err != nil {
			return Report{}, fmt.Errorf("legacy home %q: invalid id: %w", h.ID, err)
		}
		if _, err := set.Homes.Create(ctx, &domain.Home{
			ID:         id,
			Name:       h.Name,
			CreatedAt:  h.CreatedAt.UTC(),
			ModifiedAt: h.ModifiedAt.UTC(),
		}); err != nil {
			return Report{}, fmt.Errorf("legacy home %q: %w", h.ID, err)
		}
		homes[h.ID] = id
	}

	depths, err := locationDepths(snap.Locations)
	if err != nil {
		return Report{}, err
	}

	locations := make(map[string]uuid.UUID, len(snap.Locations))
	for _, l := range snap.Locations {
		id, err := uuid.Parse(l.ID)
		if err != nil {
			return Report{}, fmt.Errorf("legacy location %q: invalid id: %w", l.ID, err)
		}
		homeID, ok := homes[l.HomeID]
		if !ok {
			return Report{}, fmt.Errorf("legacy location %q: unknown home %q", l.ID, l.HomeID)
		}
		if _, err := set.Locations.Create(ctx, &domain.StorageLocation{
			ID:         id,
			HomeID:     homeID,
			Name:       l.Name,
			Depth:      depths[l.ID],
			CreatedAt:  l.CreatedAt.UTC(),
			ModifiedAt: l.ModifiedAt.UTC(),
		}); err != nil {
			return Report{}, fmt.Errorf("legacy location %q: %w", l.ID, err)
		}
		locations[l.ID] = id
	}

	for _, l := range snap.Locations {
		if l.ParentID == nil {
			continue
		}
		parentID := locations[*l.ParentID]
		if err := set.Locations.SetParent(ctx, locations[l.ID], &parentID, depths[l.ID]); err != nil {
			return Report{}, fmt.Errorf("legacy location %q: failed to link parent: %w", l.ID, err)
		}
	}

	for _, it := range snap.Items {
		id, err := uuid.Parse(it.ID)
		if err != nil {
			return Report{}, fmt.Errorf("legacy item %q: invalid id: %w", it.ID, err)
		}
		locationID, ok := locations[it.LocationID]
		if !ok {
			return Report{}, fmt.Errorf("legacy item %q: unknown location %q", it.ID, it.LocationID)
		}
		tags, err := domain.NormalizeTags(it.Tags)
		if err != nil {
			return Report{}, fmt.Errorf("legacy item %q: %w", it.ID, err)
		}
		if _, err := set.Items.Create(ctx, &domain.InventoryItem{
			ID:               id,
			LocationID:       locationID,
			Title:            it.Title,
			Description:      it.Description,
			PhotoFileName:    it.PhotoFileName,
			Emoji:            it.Emoji,
			IsPendingAiEmoji: it.IsPendingAiEmoji,
			Tags:             tags,
			CreatedAt:        it.CreatedAt.UTC(),
			ModifiedAt:       it.ModifiedAt.UTC(),
		}); err != nil {
			return Report{}, fmt.Errorf("legacy item %q: %w", it.ID, err)
		}
	}

	return Report{Homes: len(snap.Homes), Locations: len(snap.Locations), Items: len(snap.Items)}, nil
}

// locationDepths derives each location's depth from its parent chain,
// rejecting unknown parents, cycles and trees deeper than the limit.
func locationDepths(locs []legacy.Location) (map[string]int, error) {
	parents := make(map[string]*string, len(locs))
	for _, l := range locs {
		parents[l.ID] = l.ParentID
	}

	depths := make(map[string]int, len(locs))
	for _, l := range locs {
		depth := 0
		seen := map[string]bool{l.ID: true}
		for p := parents[l.ID]; p != nil; p = parents[*p] {
			if _, ok := parents[*p]; !ok {
				return nil, fmt.Errorf("legacy location %q: unknown parent %q", l.ID, *p)
			}
			if seen[*p] {
				return nil, fmt.Errorf("legacy location %q: %w", l.ID, domain.ErrCycle)
			}
			seen[*p] = true
			depth++
		}
		if depth >= domain.MaxLocationDepth {
			return nil, fmt.Errorf("legacy location %q: %w", l.ID, domain.ErrDepthExceeded)
		}
		depths[l.ID] = depth
	}
	return depths, nil
}
