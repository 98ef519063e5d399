package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRoomStore persists the client's room snapshot as one JSON blob
// per participant, so a client can restore history after moving hosts.
type RedisRoomStore struct {
	client *redis.Client
	key    string
}

func NewRedisRoomStore(client *redis.Client, participantID domain.ParticipantID) ports.RoomStore {
	return &RedisRoomStore{
		client: client,
		key:    "commlink:state:" + string(participantID),
	}
}

func (s *RedisRoomStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room state: %w", err)
	}

	var rooms []*domain.Room
	if err := json.Unmarshal([]byte(data), &rooms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room state: %w", err)
	}
	return rooms, nil
}

func (s *RedisRoomStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	data, err := json.Marshal(rooms)
	if err != nil {
		return fmt.Errorf("failed to marshal room state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save room state: %w", err)
	}
	return nil
}

func (s *RedisRoomStore) Close() error {
	return nil
}
