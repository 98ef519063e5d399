package badger

import (
	"context"
	"testing"

	"commlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBadgerRoomStore_Roundtrip(t *testing.T) {
	store, err := NewBadgerRoomStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	empty, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	general := domain.NewRoom("room-1", "general", 100)
	general.AddMember("alice")
	general.Append(&domain.Message{
		ID: "m1", RoomID: "room-1", SenderID: "alice",
		Kind: domain.PayloadText, Text: "hello", Status: domain.StatusRead,
	})
	random := domain.NewRoom("room-2", "random", 100)

	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{general, random}))

	loaded, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byID := make(map[domain.RoomID]*domain.Room)
	for _, room := range loaded {
		byID[room.ID] = room
	}
	require.Contains(t, byID, domain.RoomID("room-1"))
	assert.True(t, byID["room-1"].HasMember("alice"))
	require.Len(t, byID["room-1"].History, 1)
	assert.Equal(t, "hello", byID["room-1"].History[0].Text)
}

func TestBadgerRoomStore_SaveDropsRemovedRooms(t *testing.T) {
	store, err := NewBadgerRoomStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{
		domain.NewRoom("room-1", "general", 100),
		domain.NewRoom("room-2", "random", 100),
	}))

	require.NoError(t, store.SaveRoomState(ctx, []*domain.Room{
		domain.NewRoom("room-1", "general", 100),
	}))

	loaded, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.RoomID("room-1"), loaded[0].ID)
}
