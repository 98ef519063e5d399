package signal

import (
	"encoding/json"

	"commlink/internal/core/domain"
)

// FrameType discriminates frames on the relay wire. Every frame is a
// JSON object with a "type" field and a type-specific payload.
type FrameType string

const (
	FrameAuth       FrameType = "auth"
	FrameAuthOK     FrameType = "auth_ok"
	FrameJoin       FrameType = "join"
	FrameLeave      FrameType = "leave"
	FrameCreateRoom FrameType = "create_room"
	FrameMessage    FrameType = "message"
	FrameFile       FrameType = "file"
	FrameTyping     FrameType = "typing"
	FrameReaction   FrameType = "reaction"
	FrameEdit       FrameType = "edit"
	FrameDelete     FrameType = "delete"
	FrameRead       FrameType = "read"
	FrameOffer      FrameType = "offer"
	FrameAnswer     FrameType = "answer"
	FrameCandidate  FrameType = "candidate"
	FramePresence   FrameType = "presence"
	FrameError      FrameType = "error"
	FramePing       FrameType = "ping"
	FramePong       FrameType = "pong"
)

// Frame is the wire envelope. From is stamped by the relay on
// forwarded frames; clients never set it themselves.
type Frame struct {
	Type    FrameType            `json:"type"`
	From    domain.ParticipantID `json:"from,omitempty"`
	RoomID  domain.RoomID        `json:"room_id,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// NewFrame marshals payload into an envelope. A nil payload produces a
// bare frame, used for ping/pong.
func NewFrame(t FrameType, payload interface{}) (Frame, error) {
	f := Frame{Type: t}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = raw
	return f, nil
}

type AuthPayload struct {
	Token         string               `json:"token"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	DisplayName   string               `json:"display_name,omitempty"`
}

type AuthOKPayload struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Rooms         []domain.RoomID      `json:"rooms,omitempty"`
}

type JoinPayload struct {
	RoomID domain.RoomID `json:"room_id"`
}

type LeavePayload struct {
	RoomID domain.RoomID `json:"room_id"`
}

type CreateRoomPayload struct {
	Name       string `json:"name"`
	Persistent bool   `json:"persistent,omitempty"`
}

type MessagePayload struct {
	ID   domain.MessageID `json:"id"`
	Text string           `json:"text"`
}

type FilePayload struct {
	ID       domain.MessageID `json:"id"`
	Name     string           `json:"name"`
	Size     int64            `json:"size"`
	MimeType string           `json:"mime_type"`
	Chunk    int              `json:"chunk"`
	Chunks   int              `json:"chunks"`
	Data     []byte           `json:"data"`
}

type TypingPayload struct {
	Active bool `json:"active"`
}

type ReactionPayload struct {
	MessageID domain.MessageID `json:"message_id"`
	Emoji     string           `json:"emoji"`
	Remove    bool             `json:"remove,omitempty"`
}

type EditPayload struct {
	MessageID domain.MessageID `json:"message_id"`
	Text      string           `json:"text"`
}

type DeletePayload struct {
	MessageID domain.MessageID `json:"message_id"`
}

type ReadPayload struct {
	MessageID domain.MessageID `json:"message_id"`
}

// SignalPayload carries SDP or ICE material between two participants.
// To selects the target; the relay rewrites From before forwarding.
type SignalPayload struct {
	To        domain.ParticipantID `json:"to"`
	SDP       string               `json:"sdp,omitempty"`
	Candidate string               `json:"candidate,omitempty"`
	Mid       string               `json:"mid,omitempty"`
	MLineIdx  *uint16              `json:"m_line_idx,omitempty"`
}

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
	PresenceRoster = "roster"
)

type PresencePayload struct {
	Event         string                 `json:"event"`
	ParticipantID domain.ParticipantID   `json:"participant_id,omitempty"`
	Members       []domain.ParticipantID `json:"members,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
