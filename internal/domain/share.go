package domain

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role a user holds on a shared home.
type ParticipantRole string

const (
	RoleOwner     ParticipantRole = "owner"
	RoleReadWrite ParticipantRole = "readWrite"
	RoleReadOnly  ParticipantRole = "readOnly"
)

func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleOwner, RoleReadWrite, RoleReadOnly:
		return true
	}
	return false
}

type Participant struct {
	UserID        string          `json:"user_id"`
	DisplayName   string          `json:"display_name,omitempty"`
	Role          ParticipantRole `json:"role"`
	Accepted      bool            `json:"accepted"`
	IsCurrentUser bool            `json:"is_current_user"`
}

// Share associates a home's root record with its participants. The cloud
// container owns the record; stores keep only the association.
type Share struct {
	ID           string        `json:"id"`
	HomeID       uuid.UUID     `json:"home_id"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	OwnerID      string        `json:"owner_id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// CurrentUserParticipant returns the participant entry flagged as the
// current user, or nil.
func (s *Share) CurrentUserParticipant() *Participant {
	if s == nil {
		return nil
	}
	for i := range s.Participants {
		if s.Participants[i].IsCurrentUser {
			return &s.Participants[i]
		}
	}
	return nil
}

// WithCurrentUser returns a copy of the share with IsCurrentUser set for
// the participant matching userID.
func (s *Share) WithCurrentUser(userID string) *Share {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		p.IsCurrentUser = p.UserID == userID
		cp.Participants[i] = p
	}
	return &cp
}

// SharePermission is the single source of truth for mutation gating. Every
// check is a pure function of Role.
type SharePermission struct {
	Role ParticipantRole `json:"role"`
}

// PermissionFor derives the permission from the share's current-user
// participant. No share at all means the user owns the data. A share the
// current user does not appear in grants read-only access.
func PermissionFor(share *Share) SharePermission {
	if share == nil {
		return SharePermission{Role: RoleOwner}
	}
	p := share.CurrentUserParticipant()
	if p == nil || !p.Role.Valid() {
		return SharePermission{Role: RoleReadOnly}
	}
	return SharePermission{Role: p.Role}
}

func (p SharePermission) CanEdit() bool {
	return p.Role == RoleOwner || p.Role == RoleReadWrite
}

func (p SharePermission) CanCreateLocations() bool { return p.CanEdit() }
func (p SharePermission) CanDeleteLocations() bool { return p.CanEdit() }
func (p SharePermission) CanAddItems() bool        { return p.CanEdit() }
func (p SharePermission) CanEditItems() bool       { return p.CanEdit() }
func (p SharePermission) CanDeleteItems() bool     { return p.CanEdit() }

// IsOwner reports whether the user may manage the share itself.
func (p SharePermission) IsOwner() bool { return p.Role == RoleOwner }
