package backup

import (
	"context"
	"testing"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/infrastructure/repositories/memory"
	"commlink/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSnapshotService(t *testing.T) *backup.SnapshotService {
	t.Helper()
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return backup.NewSnapshotService(storage, "test")
}

func seedRoom(t *testing.T, repo ports.RoomRepository, id domain.RoomID, persistent bool) {
	t.Helper()
	room := domain.NewRoom(id, string(id), 100)
	room.Persistent = persistent
	room.AddMember("alice")
	require.NoError(t, repo.Create(context.Background(), room))
}

func TestSchedulerAndRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	snapshots := newSnapshotService(t)

	source := memory.NewMemoryRoomRepository()
	seedRoom(t, source, "general", true)
	seedRoom(t, source, "scratch", false)

	scheduler := NewScheduler(snapshots, source, Config{
		Interval:      time.Hour,
		RetentionDays: 7,
	}, logger)
	scheduler.runSnapshot(ctx)

	names, err := snapshots.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)

	target := memory.NewMemoryRoomRepository()
	restore := NewRestoreService(snapshots, target, logger)
	require.NoError(t, restore.RestoreFromSnapshot(ctx, names[0], DefaultRestoreOptions()))

	room, err := target.GetByID(ctx, "general")
	require.NoError(t, err)
	assert.True(t, room.Persistent)
	assert.True(t, room.HasMember("alice"))

	_, err = target.GetByID(ctx, "scratch")
	assert.NoError(t, err)
}

func TestRestore_PersistentOnly(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	snapshots := newSnapshotService(t)

	source := memory.NewMemoryRoomRepository()
	seedRoom(t, source, "general", true)
	seedRoom(t, source, "scratch", false)

	scheduler := NewScheduler(snapshots, source, Config{Interval: time.Hour}, logger)
	scheduler.runSnapshot(ctx)

	names, err := snapshots.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)

	target := memory.NewMemoryRoomRepository()
	restore := NewRestoreService(snapshots, target, logger)
	require.NoError(t, restore.RestoreFromSnapshot(ctx, names[0], RestoreOptions{PersistentOnly: true}))

	_, err = target.GetByID(ctx, "general")
	assert.NoError(t, err)

	_, err = target.GetByID(ctx, "scratch")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRestore_SkipsExistingWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	snapshots := newSnapshotService(t)

	source := memory.NewMemoryRoomRepository()
	seedRoom(t, source, "general", true)

	scheduler := NewScheduler(snapshots, source, Config{Interval: time.Hour}, logger)
	scheduler.runSnapshot(ctx)

	names, err := snapshots.ListSnapshots(ctx)
	require.NoError(t, err)

	target := memory.NewMemoryRoomRepository()
	local := domain.NewRoom("general", "renamed locally", 100)
	require.NoError(t, target.Create(ctx, local))

	restore := NewRestoreService(snapshots, target, logger)
	require.NoError(t, restore.RestoreFromSnapshot(ctx, names[0], DefaultRestoreOptions()))

	room, err := target.GetByID(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "renamed locally", room.Name)
}
