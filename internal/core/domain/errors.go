package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrSessionNotFound     = errors.New("peer session not found")

	// Connection taxonomy: transient failures are retried with backoff,
	// auth failures are fatal and never retried.
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrAuthTimeout      = errors.New("authentication timed out")
	ErrConnectionClosed = errors.New("connection closed")

	// Media taxonomy: negotiation failures close only the affected
	// session; permission failures surface to the caller.
	// ErrPermissionDenied also covers room-level authorization,
	// e.g. a non-member appending to a room.
	ErrNegotiationFailed = errors.New("media negotiation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceNotFound    = errors.New("media device not found")

	// Protocol failures are logged and dropped; the connection stays up.
	ErrProtocol = errors.New("malformed frame")
)
