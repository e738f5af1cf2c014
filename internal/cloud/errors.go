package cloud

import (
	"errors"
	"fmt"
)

// Code enumerates the failures a cloud container reports.
type Code string

const (
	CodeNetworkUnavailable     Code = "network_unavailable"
	CodeNetworkFailure         Code = "network_failure"
	CodeServiceUnavailable     Code = "service_unavailable"
	CodeRateLimited            Code = "rate_limited"
	CodeZoneBusy               Code = "zone_busy"
	CodeServerRecordChanged    Code = "server_record_changed"
	CodeNotAuthenticated       Code = "not_authenticated"
	CodeRestricted             Code = "restricted"
	CodeQuotaExceeded          Code = "quota_exceeded"
	CodeParticipantNeedsVerify Code = "participant_needs_verification"
	CodeUnknownItem            Code = "unknown_item"
	CodeZoneNotFound           Code = "zone_not_found"
	CodePermissionFailure      Code = "permission_failure"
	CodeInternal               Code = "internal"
)

type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can compare against
// the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Op == "" && t.Err == nil
	}
	return false
}

func newError(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

var (
	ErrUnknownItem       = &Error{Code: CodeUnknownItem}
	ErrPermissionFailure = &Error{Code: CodePermissionFailure}
	ErrNotAuthenticated  = &Error{Code: CodeNotAuthenticated}
	ErrZoneNotFound      = &Error{Code: CodeZoneNotFound}
)

// Class groups codes by how callers should react.
type Class int

const (
	Unknown Class = iota
	Transient
	Permanent
	Revoked
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Revoked:
		return "revoked"
	}
	return "unknown"
}

func codeOf(err error) (Code, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

func Classify(err error) Class {
	code, ok := codeOf(err)
	if !ok {
		return Unknown
	}
	switch code {
	case CodeNetworkUnavailable, CodeNetworkFailure, CodeServiceUnavailable,
		CodeRateLimited, CodeZoneBusy, CodeServerRecordChanged:
		return Transient
	case CodeNotAuthenticated, CodeRestricted, CodeQuotaExceeded, CodeParticipantNeedsVerify:
		return Permanent
	case CodeUnknownItem, CodeZoneNotFound, CodePermissionFailure:
		return Revoked
	}
	return Unknown
}

// Presentation is the only form in which cloud failures reach the
// presentation layer.
type Presentation struct {
	Message     string `json:"message"`
	IsOffline   bool   `json:"is_offline"`
	ShouldRetry bool   `json:"should_retry"`
}

func Present(err error) Presentation {
	code, ok := codeOf(err)
	if !ok {
		return Presentation{Message: "Something went wrong. Please try again later."}
	}
	switch code {
	case CodeNetworkUnavailable, CodeNetworkFailure:
		return Presentation{Message: "You appear to be offline. Changes will sync when you reconnect.", IsOffline: true, ShouldRetry: true}
	case CodeServiceUnavailable:
		return Presentation{Message: "The sync service is temporarily unavailable. Please try again shortly.", ShouldRetry: true}
	case CodeRateLimited, CodeZoneBusy:
		return Presentation{Message: "The sync service is busy. Please try again in a moment.", ShouldRetry: true}
	case CodeServerRecordChanged:
		return Presentation{Message: "This home was changed elsewhere. Please try again.", ShouldRetry: true}
	case CodeNotAuthenticated:
		return Presentation{Message: "Sign in to your cloud account to share and sync homes."}
	case CodeRestricted:
		return Presentation{Message: "Your cloud account is restricted. Check your account settings."}
	case CodeQuotaExceeded:
		return Presentation{Message: "Your cloud storage is full. Free up space to keep syncing."}
	case CodeParticipantNeedsVerify:
		return Presentation{Message: "This invitation needs to be verified. Open it from the account it was sent to."}
	case CodeUnknownItem, CodeZoneNotFound:
		return Presentation{Message: "This shared home is no longer available."}
	case CodePermissionFailure:
		return Presentation{Message: "You no longer have access to this shared home."}
	}
	return Presentation{Message: fmt.Sprintf("Sync failed (%s).", code)}
}
