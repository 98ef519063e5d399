package ports

import (
	"context"

	"commlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Renderer is the UI collaborator. Calls are synchronous, side-effect
// only and never fail from the core's perspective.
type Renderer interface {
	DisplayMessage(msg *domain.Message)
	UpdateParticipants(roomID domain.RoomID, participants []domain.ParticipantID)
	AttachRemoteTrack(participantID domain.ParticipantID, track *webrtc.TrackRemote)
}

// MediaConstraints narrows which local tracks a MediaSource acquires.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource is the media acquisition collaborator. Acquisition fails
// with domain.ErrPermissionDenied or domain.ErrDeviceNotFound.
type MediaSource interface {
	AcquireTracks(ctx context.Context, constraints MediaConstraints) ([]webrtc.TrackLocal, error)
	Release()
}
