package domain

import "time"

type Participant struct {
	ID          ParticipantID
	SessionID   SessionID
	DisplayName string
	JoinedAt    time.Time
	LastSeen    time.Time
}

// PresenceEvent describes a membership change observed in a room.
type PresenceEvent struct {
	RoomID        RoomID
	ParticipantID ParticipantID
	Joined        bool
	Timestamp     time.Time
}
