package ports

import (
	"context"

	"commlink/internal/core/domain"
)

// RoomStore is the best-effort persistence collaborator. Load/save
// failures are logged by callers, never propagated into control flow.
type RoomStore interface {
	LoadRoomState(ctx context.Context) ([]*domain.Room, error)
	SaveRoomState(ctx context.Context, rooms []*domain.Room) error
	Close() error
}

// RoomRepository is the server-side room catalog.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id domain.RoomID) error
	List(ctx context.Context) ([]*domain.Room, error)
}

// ParticipantRegistry maps a connected participant to the relay
// instance that owns its connection, for multi-node frame routing.
type ParticipantRegistry interface {
	Register(ctx context.Context, participantID domain.ParticipantID, instanceID string) error
	Lookup(ctx context.Context, participantID domain.ParticipantID) (string, error)
	Unregister(ctx context.Context, participantID domain.ParticipantID) error
}
