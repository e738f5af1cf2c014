package domain

import (
	"fmt"
	"time"
)

// UnavailableReason explains why the cloud account cannot be used.
type UnavailableReason string

const (
	ReasonNoAccount              UnavailableReason = "noAccount"
	ReasonRestricted             UnavailableReason = "restricted"
	ReasonCouldNotDetermine      UnavailableReason = "couldNotDetermine"
	ReasonTemporarilyUnavailable UnavailableReason = "temporarilyUnavailable"
	ReasonError                  UnavailableReason = "error"
)

// Availability is the outcome of an account probe.
type Availability struct {
	Available bool
	Reason    UnavailableReason
}

func Available() Availability { return Availability{Available: true} }

func Unavailable(reason UnavailableReason) Availability {
	return Availability{Reason: reason}
}

func (a Availability) String() string {
	if a.Available {
		return "available"
	}
	return "unavailable(" + string(a.Reason) + ")"
}

// ParseAvailability parses "available" or one of the reason names. It is
// used for configured overrides.
func ParseAvailability(s string) (Availability, error) {
	switch s {
	case "available":
		return Available(), nil
	case string(ReasonNoAccount), string(ReasonRestricted), string(ReasonCouldNotDetermine),
		string(ReasonTemporarilyUnavailable), string(ReasonError):
		return Unavailable(UnavailableReason(s)), nil
	}
	return Availability{}, fmt.Errorf("unknown availability %q", s)
}

type SyncMode string

const (
	SyncDisabled          SyncMode = "disabled"
	SyncChecking          SyncMode = "checking"
	SyncSyncing           SyncMode = "syncing"
	SyncSynced            SyncMode = "synced"
	SyncOffline           SyncMode = "offline"
	SyncICloudUnavailable SyncMode = "iCloudUnavailable"
)

// SyncState is transient and never persisted.
type SyncState struct {
	Mode            SyncMode          `json:"mode"`
	Reason          UnavailableReason `json:"reason,omitempty"`
	LastSyncEventAt *time.Time        `json:"last_sync_event_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}
