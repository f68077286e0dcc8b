package models

import "errors"

// Shared error taxonomy. Telemetry-side callers log these and drop the
// message; chat-side callers surface them to the requester.
var (
	ErrNotFound             = errors.New("record not found")
	ErrUnpaired             = errors.New("device has no active pairing")
	ErrAlreadyRegistered    = errors.New("device already registered to this user")
	ErrPairedElsewhere      = errors.New("device is registered to another user")
	ErrNoActiveDevice       = errors.New("no active device for user")
	ErrRequestInFlight      = errors.New("status request already pending")
	ErrTransportUnavailable = errors.New("transport unavailable")
)
