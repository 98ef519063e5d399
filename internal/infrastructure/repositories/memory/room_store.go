package memory

import (
	"context"
	"sync"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
)

// MemoryRoomStore keeps the last saved snapshot in process. Useful for
// tests and for running without a persistence backend.
type MemoryRoomStore struct {
	rooms []*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomStore() ports.RoomStore {
	return &MemoryRoomStore{}
}

func (s *MemoryRoomStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Room, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}

func (s *MemoryRoomStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = make([]*domain.Room, len(rooms))
	copy(s.rooms, rooms)
	return nil
}

func (s *MemoryRoomStore) Close() error {
	return nil
}
