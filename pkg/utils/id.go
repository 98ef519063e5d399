package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with the given prefix.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

// GenerateMessageID generates a globally unique, time-ordered message
// ID. The nanosecond prefix keeps ids sortable by creation time; the
// uuid fragment keeps them unique across senders.
func GenerateMessageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// GenerateRoomID generates a unique room ID.
func GenerateRoomID() string {
	return GenerateID("room")
}

// GenerateParticipantID generates a unique participant ID.
func GenerateParticipantID() string {
	return GenerateID("part")
}

// GenerateSessionID generates a unique session ID.
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateInstanceID generates a unique relay instance ID.
func GenerateInstanceID() string {
	return GenerateID("relay")
}
