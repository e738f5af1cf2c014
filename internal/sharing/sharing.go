// Package sharing manages home shares and derives the current user's
// permission on each home.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/metrics"
	"github.com/vbonduro/cubby/internal/store"
)

var (
	ErrAlreadyShared      = errors.New("home is already shared")
	ErrMissingSharedStore = errors.New("shared store is not loaded")
	ErrShareRevoked       = errors.New("access to the shared home was revoked")
	ErrNotShared          = errors.New("home is not shared")
)

const (
	defaultRetryInitial = time.Second
	defaultRetryMax     = 8 * time.Second
	maxAttempts         = 3
)

// Stores is the part of the store controller sharing needs.
type Stores interface {
	Store(scope domain.Scope) *datastore.Store
	SharedStore() *datastore.Store
}

type Options struct {
	// RetryInitial is the first backoff delay. Later delays double up to
	// RetryMax.
	RetryInitial time.Duration
	RetryMax     time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Service struct {
	container    cloud.Container
	stores       Stores
	retryInitial time.Duration
	retryMax     time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewService(container cloud.Container, stores Stores, opts Options) *Service {
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		container:    container,
		stores:       stores,
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMax,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

// retry runs op until it succeeds, fails with a non-transient error or
// runs out of attempts.
func (s *Service) retry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = s.retryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if cloud.Classify(err) != cloud.Transient {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx), func(err error, wait time.Duration) {
		s.metrics.ShareRetry()
		s.logger.Warn("retrying share operation", "op", name, "wait", wait, "error", err)
	})
}

func (s *Service) association(ctx context.Context, home *domain.Home) (*datastore.Store, *domain.Share, error) {
	st := s.stores.Store(home.Scope)
	if st == nil {
		return nil, nil, ErrMissingSharedStore
	}
	assoc, err := st.View().Shares.GetByHomeID(ctx, home.ID)
	if err != nil {
		return nil, nil, err
	}
	return st, assoc, nil
}

// ShareHome creates a share for home with the current user as owner.
func (s *Service) ShareHome(ctx context.Context, home *domain.Home) (*domain.Share, error) {
	st, assoc, err := s.association(ctx, home)
	if err != nil {
		return nil, err
	}
	if assoc != nil {
		return nil, ErrAlreadyShared
	}

	var share *domain.Share
	err = s.retry(ctx, "save share", func() error {
		var err error
		share, err = s.container.SaveShare(ctx, home.ID, home.Name)
		var ce *cloud.Error
		if errors.As(err, &ce) && ce.Code == cloud.CodeServerRecordChanged {
			return backoff.Permanent(ErrAlreadyShared)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := st.Update(ctx, func(set *store.Set) error {
		return set.Shares.Save(ctx, share)
	}); err != nil {
		return nil, fmt.Errorf("failed to persist share: %w", err)
	}

	s.logger.Info("home shared", "home_id", home.ID, "share_id", share.ID)
	return share, nil
}

// FetchShare returns home's share as the container currently sees it, or
// nil if the home was never shared.
func (s *Service) FetchShare(ctx context.Context, home *domain.Home) (*domain.Share, error) {
	st, assoc, err := s.association(ctx, home)
	if err != nil || assoc == nil {
		return nil, err
	}

	var share *domain.Share
	err = s.retry(ctx, "fetch share", func() error {
		var err error
		share, err = s.container.FetchShare(ctx, assoc.ID)
		return err
	})
	if err != nil {
		if cloud.Classify(err) == cloud.Revoked {
			return nil, s.revoke(ctx, st, home, err)
		}
		return nil, err
	}
	return share, nil
}

// revoke handles a share that no longer exists or no longer includes the
// current user. A home held in the shared store is removed from it. For a
// home we own, only the stale association is dropped.
func (s *Service) revoke(ctx context.Context, st *datastore.Store, home *domain.Home, cause error) error {
	if home.Scope == domain.ScopeShared {
		s.logger.Warn("share revoked, removing home", "home_id", home.ID, "error", cause)
		if err := st.Evict(ctx, home.ID); err != nil {
			return fmt.Errorf("failed to remove revoked home: %w", err)
		}
		return ErrShareRevoked
	}

	s.logger.Warn("share no longer exists, clearing association", "home_id", home.ID, "error", cause)
	err := st.Update(ctx, func(set *store.Set) error {
		return set.Shares.Delete(ctx, home.ID)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to clear share association: %w", err)
	}
	return nil
}

// IsShared reports whether home has a share association. It does not
// contact the container.
func (s *Service) IsShared(ctx context.Context, home *domain.Home) bool {
	_, assoc, err := s.association(ctx, home)
	if err != nil {
		s.logger.Error("failed to look up share", "home_id", home.ID, "error", err)
		return false
	}
	return assoc != nil
}

func (s *Service) CanEdit(ctx context.Context, home *domain.Home) bool {
	return s.Permission(ctx, home).CanEdit()
}

// Permission derives the current user's permission on home. Homes without
// a share, and shares we own, grant owner without a round trip. Otherwise
// the share is fetched; when that fails the user gets read-only access.
func (s *Service) Permission(ctx context.Context, home *domain.Home) domain.SharePermission {
	_, assoc, err := s.association(ctx, home)
	if err != nil {
		s.logger.Error("failed to look up share", "home_id", home.ID, "error", err)
		return domain.SharePermission{Role: domain.RoleReadOnly}
	}
	if assoc == nil {
		return domain.PermissionFor(nil)
	}
	if user, err := s.container.CurrentUserID(ctx); err == nil && user == assoc.OwnerID {
		return domain.SharePermission{Role: domain.RoleOwner}
	}

	share, err := s.FetchShare(ctx, home)
	if err != nil {
		s.logger.Warn("failed to fetch share for permission", "home_id", home.ID, "error", err)
		return domain.SharePermission{Role: domain.RoleReadOnly}
	}
	if share == nil {
		return domain.PermissionFor(nil)
	}
	return domain.PermissionFor(share)
}

func (s *Service) requireOwner(ctx context.Context, home *domain.Home) error {
	if !s.Permission(ctx, home).IsOwner() {
		return fmt.Errorf("only the owner can manage sharing for %s: %w", home.ID, domain.ErrForbidden)
	}
	return nil
}

// AcceptShareInvitation joins a share and imports its home into the shared
// store.
func (s *Service) AcceptShareInvitation(ctx context.Context, md cloud.ShareMetadata) (*domain.Share, error) {
	shared := s.stores.SharedStore()
	if shared == nil {
		return nil, ErrMissingSharedStore
	}

	var share *domain.Share
	if err := s.retry(ctx, "accept share", func() error {
		var err error
		share, err = s.container.AcceptShare(ctx, md)
		return err
	}); err != nil {
		return nil, err
	}

	var records []domain.Record
	if err := s.retry(ctx, "fetch zone", func() error {
		var err error
		records, err = s.container.FetchZone(ctx, share.ID)
		return err
	}); err != nil {
		return nil, err
	}
	records = withHomeRecord(records, share)

	result, err := shared.ApplyRemote(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to import shared home: %w", err)
	}

	if err := shared.Update(ctx, func(set *store.Set) error {
		return set.Shares.Save(ctx, share)
	}); err != nil {
		return nil, fmt.Errorf("failed to persist share: %w", err)
	}

	s.logger.Info("share accepted", "share_id", share.ID, "home_id", share.HomeID, "records", result.Applied)
	return share, nil
}

// withHomeRecord makes sure the aggregate carries its root so the share
// association always has a home to point at, even before the owner's first
// push.
func withHomeRecord(records []domain.Record, share *domain.Share) []domain.Record {
	for _, r := range records {
		if r.Entity == domain.EntityHome && r.ID == share.HomeID.String() {
			return records
		}
	}
	home := &domain.Home{ID: share.HomeID, Name: share.Title, CreatedAt: share.CreatedAt, ModifiedAt: share.CreatedAt}
	return append([]domain.Record{home.Record()}, records...)
}

func (s *Service) Participants(ctx context.Context, home *domain.Home) ([]domain.Participant, error) {
	share, err := s.FetchShare(ctx, home)
	if err != nil {
		return nil, err
	}
	if share == nil {
		return []domain.Participant{}, nil
	}
	return share.Participants, nil
}

// Invite adds userID to home's share with role. Only the owner may invite.
func (s *Service) Invite(ctx context.Context, home *domain.Home, userID string, role domain.ParticipantRole) (*domain.Share, error) {
	_, assoc, err := s.association(ctx, home)
	if err != nil {
		return nil, err
	}
	if assoc == nil {
		return nil, ErrNotShared
	}
	if err := s.requireOwner(ctx, home); err != nil {
		return nil, err
	}

	var share *domain.Share
	err = s.retry(ctx, "add participant", func() error {
		var err error
		share, err = s.container.AddParticipant(ctx, assoc.ID, userID, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// StopSharing deletes home's share and its association. Participants lose
// access the next time they fetch it.
func (s *Service) StopSharing(ctx context.Context, home *domain.Home) error {
	st, assoc, err := s.association(ctx, home)
	if err != nil {
		return err
	}
	if assoc == nil {
		return ErrNotShared
	}
	if err := s.requireOwner(ctx, home); err != nil {
		return err
	}

	if err := s.retry(ctx, "delete share", func() error {
		return s.container.DeleteShare(ctx, assoc.ID)
	}); err != nil {
		return err
	}

	return st.Update(ctx, func(set *store.Set) error {
		return set.Shares.Delete(ctx, home.ID)
	})
}
