package services

import (
	"context"
	"testing"

	"commlink/internal/core/domain"
	"commlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomService_CreateJoinLeave(t *testing.T) {
	svc := NewRoomService(memory.NewMemoryRoomRepository(), 100)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "general", false)
	require.NoError(t, err)
	require.NotEmpty(t, room.ID)

	require.NoError(t, svc.JoinRoom(ctx, room.ID, "alice"))
	require.NoError(t, svc.JoinRoom(ctx, room.ID, "alice"), "rejoin is idempotent")
	require.NoError(t, svc.JoinRoom(ctx, room.ID, "bob"))

	members, err := svc.Members(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, svc.LeaveRoom(ctx, room.ID, "alice"))
	assert.ErrorIs(t, svc.LeaveRoom(ctx, room.ID, "alice"), domain.ErrParticipantNotFound)

	// Last member out tears the ephemeral room down.
	require.NoError(t, svc.LeaveRoom(ctx, room.ID, "bob"))
	_, err = svc.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomService_PersistentRoomSurvivesEmpty(t *testing.T) {
	svc := NewRoomService(memory.NewMemoryRoomRepository(), 100)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "announcements", true)
	require.NoError(t, err)

	require.NoError(t, svc.JoinRoom(ctx, room.ID, "alice"))
	require.NoError(t, svc.LeaveRoom(ctx, room.ID, "alice"))

	got, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MemberList())
}

func TestRoomService_AppendMessage(t *testing.T) {
	svc := NewRoomService(memory.NewMemoryRoomRepository(), 2)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "general", false)
	require.NoError(t, err)
	require.NoError(t, svc.JoinRoom(ctx, room.ID, "alice"))

	// Non-members cannot post.
	err = svc.AppendMessage(ctx, &domain.Message{
		ID: "m0", RoomID: room.ID, SenderID: "mallory",
		Kind: domain.PayloadText, Text: "hi", Status: domain.StatusSent,
	})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	for _, id := range []domain.MessageID{"m1", "m2", "m3"} {
		require.NoError(t, svc.AppendMessage(ctx, &domain.Message{
			ID: id, RoomID: room.ID, SenderID: "alice",
			Kind: domain.PayloadText, Text: string(id), Status: domain.StatusSent,
		}))
	}

	history, err := svc.History(ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2, "history is capped")
	assert.Equal(t, domain.MessageID("m2"), history[0].ID)
	assert.Equal(t, domain.MessageID("m3"), history[1].ID)

	limited, err := svc.History(ctx, room.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.MessageID("m3"), limited[0].ID)
}
