package domain

import "time"

// MessageStatus tracks delivery progress. Transitions are monotonic
// (sending -> sent -> delivered -> read); failed is a terminal side
// branch reachable from any non-terminal status.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether moving from s to next is a legal
// status change.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == StatusFailed || s == StatusRead {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// PayloadKind discriminates what a message carries.
type PayloadKind string

const (
	PayloadText PayloadKind = "text"
	PayloadFile PayloadKind = "file"
)

// FileDescriptor describes a file payload. The actual bytes travel in
// separate chunked file frames.
type FileDescriptor struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Chunks   int    `json:"chunks"`
}

type Message struct {
	ID       MessageID       `json:"id"`
	RoomID   RoomID          `json:"room_id"`
	SenderID ParticipantID   `json:"sender_id"`
	Kind     PayloadKind     `json:"kind"`
	Text     string          `json:"text,omitempty"`
	File     *FileDescriptor `json:"file,omitempty"`
	Status   MessageStatus   `json:"status"`
	SentAt   time.Time       `json:"sent_at"`
	EditedAt *time.Time      `json:"edited_at,omitempty"`
	Deleted  bool            `json:"deleted,omitempty"`
}

// Advance applies a status transition, ignoring illegal ones. Returns
// true when the status actually changed.
func (m *Message) Advance(next MessageStatus) bool {
	if !m.Status.CanTransition(next) {
		return false
	}
	m.Status = next
	return true
}
