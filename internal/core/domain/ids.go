package domain

type RoomID string
type ParticipantID string
type MessageID string
type SessionID string
type UserID string

// TrackKind identifies an outbound media track slot on a peer session.
// Each session carries exactly one outbound track per kind.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool {
	return k == TrackKindAudio || k == TrackKindVideo
}
