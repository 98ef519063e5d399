package reliability

import (
	"context"
	"sync"
	"testing"
	"time"

	"commlink/internal/core/domain"
	"commlink/pkg/batch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStore struct {
	mu    sync.Mutex
	saves int
	last  []*domain.Room
}

func (s *countingStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *countingStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = rooms
	return nil
}

func (s *countingStore) Close() error { return nil }

func (s *countingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestBatchingRoomStore_CoalescesSaves(t *testing.T) {
	inner := &countingStore{}
	store := NewBatchingRoomStore(inner, batch.Config{
		MaxBatch:      100,
		FlushInterval: time.Hour,
	}, zap.NewNop().Sugar())
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		name := string(rune('a' + i))
		require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{domain.NewRoom(domain.RoomID(name), name, 10)}))
	}

	require.NoError(t, store.Close())

	assert.Equal(t, 1, inner.saveCount(), "burst of saves collapses into one write")
	require.Len(t, inner.last, 1)
	assert.Equal(t, domain.RoomID("j"), inner.last[0].ID, "newest snapshot wins")
}

func TestBatchingRoomStore_LoadFlushesFirst(t *testing.T) {
	inner := &countingStore{}
	store := NewBatchingRoomStore(inner, batch.Config{
		MaxBatch:      100,
		FlushInterval: time.Hour,
	}, zap.NewNop().Sugar())
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{domain.NewRoom("general", "general", 10)}))

	rooms, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.RoomID("general"), rooms[0].ID)
	assert.Equal(t, 1, inner.saveCount())
}

func TestBatchingRoomStore_MaxBatchTriggersFlush(t *testing.T) {
	inner := &countingStore{}
	store := NewBatchingRoomStore(inner, batch.Config{
		MaxBatch:      2,
		FlushInterval: time.Hour,
	}, zap.NewNop().Sugar())
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{domain.NewRoom("a", "a", 10)}))
	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{domain.NewRoom("b", "b", 10)}))

	assert.Eventually(t, func() bool {
		return inner.saveCount() >= 1
	}, time.Second, 10*time.Millisecond)
}
