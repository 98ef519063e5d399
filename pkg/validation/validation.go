package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant ID format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomID validates a room identifier.
func ValidateRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("room id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("room id is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(id) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateParticipantID validates a participant identifier.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant id is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("participant id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateRoomName validates a human-readable room name.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("room name is too long (max 100 characters)")
	}
	return nil
}

// ValidateMessageText validates a chat message body.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if utf8.RuneCountInString(text) > 10000 {
		return fmt.Errorf("message text is too long (max 10000 characters)")
	}
	return nil
}

// ValidateSDP checks the minimal session description structure before a
// signaling frame is routed.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
