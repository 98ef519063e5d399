package memory

import (
	"context"
	"testing"

	"commlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoomRepository_CRUD(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room := domain.NewRoom("room-1", "general", 100)
	require.NoError(t, repo.Create(ctx, room))
	assert.Error(t, repo.Create(ctx, room), "duplicate create should fail")

	got, err := repo.GetByID(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "general", got.Name)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	room.AddMember("alice")
	require.NoError(t, repo.Update(ctx, room))
	got, err = repo.GetByID(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, got.HasMember("alice"))

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	require.NoError(t, repo.Delete(ctx, "room-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "room-1"), domain.ErrRoomNotFound)
}

func TestMemoryRoomStore_Roundtrip(t *testing.T) {
	store := NewMemoryRoomStore()
	ctx := context.Background()

	empty, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	rooms := []*domain.Room{
		domain.NewRoom("room-1", "general", 100),
		domain.NewRoom("room-2", "random", 100),
	}
	require.NoError(t, store.SaveRoomState(ctx, rooms))

	loaded, err := store.LoadRoomState(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	require.NoError(t, store.Close())
}
