package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
)

// Client is a Container for one signed-in user.
type Client struct {
	backend Backend
	userID  string
	logger  *slog.Logger

	mu        sync.Mutex
	status    AccountStatus
	statusErr error
}

var _ Container = (*Client)(nil)

// NewClient returns a Client acting as userID. An empty userID behaves as a
// device with no cloud account.
func NewClient(backend Backend, userID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: backend, userID: userID, logger: logger}
}

// SetAccountStatus overrides what AccountStatus reports. A zero status
// clears the override.
func (c *Client) SetAccountStatus(status AccountStatus, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.statusErr = err
}

func (c *Client) AccountStatus(ctx context.Context) (AccountStatus, error) {
	c.mu.Lock()
	status, statusErr := c.status, c.statusErr
	c.mu.Unlock()
	if status != "" || statusErr != nil {
		return status, statusErr
	}

	if c.userID == "" {
		return StatusNoAccount, nil
	}
	if err := c.backend.Ping(ctx); err != nil {
		return "", newError("account status", CodeNetworkUnavailable, err)
	}
	return StatusAvailable, nil
}

func (c *Client) CurrentUserID(context.Context) (string, error) {
	if c.userID == "" {
		return "", newError("current user", CodeNotAuthenticated, nil)
	}
	return c.userID, nil
}

func (c *Client) SaveShare(ctx context.Context, homeID uuid.UUID, title string) (*domain.Share, error) {
	const op = "save share"
	if c.userID == "" {
		return nil, newError(op, CodeNotAuthenticated, nil)
	}

	existing, err := c.shareForHome(ctx, homeID.String())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError(op, CodeServerRecordChanged, fmt.Errorf("home %s is already shared", homeID))
	}

	id := uuid.NewString()
	share := &domain.Share{
		ID:      id,
		HomeID:  homeID,
		Title:   title,
		URL:     ShareURL(id),
		OwnerID: c.userID,
		Participants: []domain.Participant{
			{UserID: c.userID, Role: domain.RoleOwner, Accepted: true},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.backend.PutShare(ctx, share); err != nil {
		return nil, c.backendError(op, err)
	}

	// Seed the share zone with whatever of the home was already pushed.
	records, err := c.backend.ZoneRecords(ctx, privateZone(c.userID))
	if err != nil {
		return nil, c.backendError(op, err)
	}
	for _, r := range Aggregate(records, homeID.String()) {
		if err := c.backend.PutRecord(ctx, shareZone(id), r); err != nil {
			return nil, c.backendError(op, err)
		}
	}

	return share.WithCurrentUser(c.userID), nil
}

// FetchShare returns the share as seen by the current user. Unknown shares
// and shares the user is not part of are reported as revocation errors.
func (c *Client) FetchShare(ctx context.Context, shareID string) (*domain.Share, error) {
	share, err := c.loadShare(ctx, "fetch share", shareID)
	if err != nil {
		return nil, err
	}
	if participant(share, c.userID) == nil {
		return nil, newError("fetch share", CodePermissionFailure, nil)
	}
	return share.WithCurrentUser(c.userID), nil
}

func (c *Client) DeleteShare(ctx context.Context, shareID string) error {
	const op = "delete share"
	share, err := c.loadShare(ctx, op, shareID)
	if err != nil {
		return err
	}
	if share.OwnerID != c.userID {
		return newError(op, CodePermissionFailure, nil)
	}

	if err := c.backend.DeleteShare(ctx, shareID); err != nil {
		return c.backendError(op, err)
	}
	if err := c.backend.DeleteZone(ctx, shareZone(shareID)); err != nil {
		return c.backendError(op, err)
	}
	return nil
}

// AddParticipant invites userID with role. Only the owner may invite.
func (c *Client) AddParticipant(ctx context.Context, shareID, userID string, role domain.ParticipantRole) (*domain.Share, error) {
	const op = "add participant"
	if !role.Valid() || role == domain.RoleOwner {
		return nil, domain.NewValidationError("role", "must be readWrite or readOnly")
	}
	share, err := c.loadShare(ctx, op, shareID)
	if err != nil {
		return nil, err
	}
	if share.OwnerID != c.userID {
		return nil, newError(op, CodePermissionFailure, nil)
	}

	if p := participant(share, userID); p != nil {
		p.Role = role
	} else {
		share.Participants = append(share.Participants, domain.Participant{UserID: userID, Role: role})
	}
	if err := c.backend.PutShare(ctx, share); err != nil {
		return nil, c.backendError(op, err)
	}
	return share.WithCurrentUser(c.userID), nil
}

func (c *Client) RemoveParticipant(ctx context.Context, shareID, userID string) (*domain.Share, error) {
	const op = "remove participant"
	share, err := c.loadShare(ctx, op, shareID)
	if err != nil {
		return nil, err
	}
	if share.OwnerID != c.userID || userID == share.OwnerID {
		return nil, newError(op, CodePermissionFailure, nil)
	}

	kept := share.Participants[:0]
	for _, p := range share.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	share.Participants = kept
	if err := c.backend.PutShare(ctx, share); err != nil {
		return nil, c.backendError(op, err)
	}
	return share.WithCurrentUser(c.userID), nil
}

// AcceptShare marks the current user's invitation as accepted. Users who
// were never invited get a verification error.
func (c *Client) AcceptShare(ctx context.Context, md ShareMetadata) (*domain.Share, error) {
	const op = "accept share"
	if c.userID == "" {
		return nil, newError(op, CodeNotAuthenticated, nil)
	}
	share, err := c.loadShare(ctx, op, md.ShareID)
	if err != nil {
		return nil, err
	}
	p := participant(share, c.userID)
	if p == nil {
		return nil, newError(op, CodeParticipantNeedsVerify, nil)
	}
	if !p.Accepted {
		p.Accepted = true
		if err := c.backend.PutShare(ctx, share); err != nil {
			return nil, c.backendError(op, err)
		}
	}
	return share.WithCurrentUser(c.userID), nil
}

func (c *Client) FetchZone(ctx context.Context, shareID string) ([]domain.Record, error) {
	const op = "fetch zone"
	share, err := c.loadShare(ctx, op, shareID)
	if err != nil {
		return nil, err
	}
	if participant(share, c.userID) == nil {
		return nil, newError(op, CodePermissionFailure, nil)
	}
	records, err := c.backend.ZoneRecords(ctx, shareZone(shareID))
	if err != nil {
		return nil, c.backendError(op, err)
	}
	return records, nil
}

func (c *Client) FetchPrivateZone(ctx context.Context) ([]domain.Record, error) {
	const op = "fetch private zone"
	if c.userID == "" {
		return nil, newError(op, CodeNotAuthenticated, nil)
	}
	records, err := c.backend.ZoneRecords(ctx, privateZone(c.userID))
	if err != nil {
		return nil, c.backendError(op, err)
	}
	return records, nil
}

// Push stores records from one of the user's stores. Private records land
// in the user's private zone and, when their home is shared, in the share
// zone. Shared records land in the share zone and the owner's private zone.
// Every other affected user is notified.
func (c *Client) Push(ctx context.Context, scope domain.Scope, records []domain.Record) error {
	const op = "push"
	if c.userID == "" {
		return newError(op, CodeNotAuthenticated, nil)
	}
	if len(records) == 0 {
		return nil
	}

	shares, err := c.backend.ListShares(ctx)
	if err != nil {
		return c.backendError(op, err)
	}
	byHome := map[string]*domain.Share{}
	for _, s := range shares {
		byHome[s.HomeID.String()] = s
	}

	fanout := map[string][]domain.Record{}
	for _, r := range records {
		var zones []string
		var share *domain.Share

		switch scope {
		case domain.ScopePrivate:
			zone := privateZone(c.userID)
			homeID := c.homeOf(ctx, zone, r)
			share = byHome[homeID]
			zones = append(zones, zone)
			if share != nil {
				zones = append(zones, shareZone(share.ID))
			}
		case domain.ScopeShared:
			share = c.sharedHomeOf(ctx, shares, r)
			if share == nil {
				return newError(op, CodeZoneNotFound, fmt.Errorf("%s %s is not in any share", r.Entity, r.ID))
			}
			p := participant(share, c.userID)
			if p == nil || !p.Accepted {
				return newError(op, CodePermissionFailure, nil)
			}
			if !domain.PermissionFor(share.WithCurrentUser(c.userID)).CanEdit() {
				return newError(op, CodePermissionFailure, fmt.Errorf("read-only participant"))
			}
			zones = append(zones, shareZone(share.ID), privateZone(share.OwnerID))
		default:
			return domain.NewValidationError("scope", "must be private or shared")
		}

		for _, zone := range zones {
			if err := c.backend.PutRecord(ctx, zone, r); err != nil {
				return c.backendError(op, err)
			}
		}

		for _, ch := range c.recipients(share) {
			fanout[ch] = append(fanout[ch], r)
		}
	}

	for ch, batch := range fanout {
		if err := c.backend.Publish(ctx, ch, batch); err != nil {
			return c.backendError(op, err)
		}
	}

	c.logger.Debug("pushed records", "scope", scope, "records", len(records), "channels", len(fanout))
	return nil
}

// recipients lists the channels, other than the pushing user's own, that
// must hear about a change to a record in share (nil for unshared homes).
func (c *Client) recipients(share *domain.Share) []string {
	if share == nil {
		return nil
	}
	var out []string
	if share.OwnerID != c.userID {
		out = append(out, userChannel(share.OwnerID, domain.ScopePrivate))
	}
	for _, p := range share.Participants {
		if p.UserID == share.OwnerID || p.UserID == c.userID || !p.Accepted {
			continue
		}
		out = append(out, userChannel(p.UserID, domain.ScopeShared))
	}
	return out
}

func (c *Client) Subscribe(ctx context.Context, scope domain.Scope, handler func([]domain.Record)) (func(), error) {
	if c.userID == "" {
		return nil, newError("subscribe", CodeNotAuthenticated, nil)
	}
	cancel, err := c.backend.Subscribe(ctx, userChannel(c.userID, scope), handler)
	if err != nil {
		return nil, c.backendError("subscribe", err)
	}
	return cancel, nil
}

// homeOf resolves the home of r using the fields it carries or, for
// tombstones and partial records, the copy already stored in zone.
func (c *Client) homeOf(ctx context.Context, zone string, r domain.Record) string {
	lookup := func(entity, id string) map[string]string {
		stored, err := c.backend.GetRecord(ctx, zone, entity, id)
		if err != nil || stored == nil {
			return nil
		}
		return stored.Fields
	}

	switch r.Entity {
	case domain.EntityHome:
		return r.ID
	case domain.EntityLocation:
		if h := r.Fields["home_id"]; h != "" {
			return h
		}
		return lookup(domain.EntityLocation, r.ID)["home_id"]
	case domain.EntityItem:
		loc := r.Fields["location_id"]
		if loc == "" {
			loc = lookup(domain.EntityItem, r.ID)["location_id"]
		}
		if loc == "" {
			return ""
		}
		return lookup(domain.EntityLocation, loc)["home_id"]
	}
	return ""
}

func (c *Client) sharedHomeOf(ctx context.Context, shares []*domain.Share, r domain.Record) *domain.Share {
	for _, s := range shares {
		if participant(s, c.userID) == nil {
			continue
		}
		if c.homeOf(ctx, shareZone(s.ID), r) == s.HomeID.String() {
			return s
		}
	}
	return nil
}

func (c *Client) shareForHome(ctx context.Context, homeID string) (*domain.Share, error) {
	shares, err := c.backend.ListShares(ctx)
	if err != nil {
		return nil, c.backendError("list shares", err)
	}
	for _, s := range shares {
		if s.HomeID.String() == homeID {
			return s, nil
		}
	}
	return nil, nil
}

func (c *Client) loadShare(ctx context.Context, op, shareID string) (*domain.Share, error) {
	share, err := c.backend.GetShare(ctx, shareID)
	if err != nil {
		return nil, c.backendError(op, err)
	}
	if share == nil {
		return nil, newError(op, CodeUnknownItem, fmt.Errorf("share %s", shareID))
	}
	return share, nil
}

// backendError passes *Error values through and reports anything else as
// the network being unavailable.
func (c *Client) backendError(op string, err error) error {
	if _, ok := codeOf(err); ok {
		return err
	}
	return newError(op, CodeNetworkUnavailable, err)
}

func participant(share *domain.Share, userID string) *domain.Participant {
	for i := range share.Participants {
		if share.Participants[i].UserID == userID {
			return &share.Participants[i]
		}
	}
	return nil
}
