package repositories

import (
	"context"
	"fmt"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/pkg/cache"
)

const roomListKey = "rooms:list"

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("room:%s", id)
}

// CachedRoomRepository is a read-through cache over a RoomRepository.
// Reads are served from a TTL cache when possible; every mutation
// writes through to the base repository and invalidates the affected
// entries, so a stale read can outlive a mutation by at most the TTL
// of an entry populated on another node.
type CachedRoomRepository struct {
	base  ports.RoomRepository
	cache *cache.Cache
}

func NewCachedRoomRepository(base ports.RoomRepository, ttl time.Duration) *CachedRoomRepository {
	return &CachedRoomRepository{
		base:  base,
		cache: cache.New(ttl),
	}
}

func (r *CachedRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := r.base.Create(ctx, room); err != nil {
		return err
	}
	r.cache.Set(roomKey(room.ID), room)
	r.cache.Delete(roomListKey)
	return nil
}

func (r *CachedRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if cached, ok := r.cache.Get(roomKey(id)); ok {
		if room, ok := cached.(*domain.Room); ok {
			return room, nil
		}
	}
	room, err := r.base.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(roomKey(id), room)
	return room, nil
}

func (r *CachedRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	if err := r.base.Update(ctx, room); err != nil {
		return err
	}
	r.cache.Set(roomKey(room.ID), room)
	r.cache.Delete(roomListKey)
	return nil
}

func (r *CachedRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	if err := r.base.Delete(ctx, id); err != nil {
		return err
	}
	r.cache.Delete(roomKey(id))
	r.cache.Delete(roomListKey)
	return nil
}

func (r *CachedRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if cached, ok := r.cache.Get(roomListKey); ok {
		if rooms, ok := cached.([]*domain.Room); ok {
			return rooms, nil
		}
	}
	rooms, err := r.base.List(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Set(roomListKey, rooms)
	return rooms, nil
}

// Stop releases the cache's eviction goroutine.
func (r *CachedRoomRepository) Stop() {
	r.cache.Stop()
}
