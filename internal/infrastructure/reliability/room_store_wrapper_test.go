package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"commlink/internal/core/domain"
	"commlink/pkg/circuitbreaker"
	"commlink/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore fails a fixed number of times before succeeding.
type flakyStore struct {
	failures int
	calls    int
	saved    []*domain.Room
}

func (s *flakyStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("backend unavailable")
	}
	return s.saved, nil
}

func (s *flakyStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("backend unavailable")
	}
	s.saved = rooms
	return nil
}

func (s *flakyStore) Close() error { return nil }

func testRetryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRoomStoreWrapper_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2}
	wrapper := NewRoomStoreWrapper(store, testRetryConfig(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	rooms := []*domain.Room{domain.NewRoom("room-1", "general", 100)}
	require.NoError(t, wrapper.SaveRoomState(context.Background(), rooms))
	assert.Equal(t, 3, store.calls)

	loaded, err := wrapper.LoadRoomState(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestRoomStoreWrapper_GivesUpAfterMaxAttempts(t *testing.T) {
	store := &flakyStore{failures: 100}
	wrapper := NewRoomStoreWrapper(store, testRetryConfig(), circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	err := wrapper.SaveRoomState(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 4, store.calls, "initial attempt plus max retries")
}

func TestRoomStoreWrapper_DisabledPassesThrough(t *testing.T) {
	store := &flakyStore{failures: 1}
	wrapper := NewRoomStoreWrapper(store, retry.Config{Enabled: false}, circuitbreaker.DefaultConfig(), zap.NewNop().Sugar())

	assert.Error(t, wrapper.SaveRoomState(context.Background(), nil))
	assert.Equal(t, 1, store.calls, "no retries when disabled")
}
