package ports

import (
	"context"

	"commlink/internal/core/domain"
)

// RoomService is the server-side room management surface used by the
// HTTP handlers and the relay.
type RoomService interface {
	CreateRoom(ctx context.Context, name string, persistent bool) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]*domain.Room, error)
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	JoinRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) error
	LeaveRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) error
	AppendMessage(ctx context.Context, msg *domain.Message) error
	History(ctx context.Context, id domain.RoomID, limit int) ([]*domain.Message, error)
	Members(ctx context.Context, id domain.RoomID) ([]domain.ParticipantID, error)
}
