package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService loads a snapshot back into the room repository.
type RestoreService struct {
	snapshots *backup.SnapshotService
	roomRepo  ports.RoomRepository
	logger    *zap.SugaredLogger
}

func NewRestoreService(
	snapshots *backup.SnapshotService,
	roomRepo ports.RoomRepository,
	logger *zap.SugaredLogger,
) *RestoreService {
	return &RestoreService{
		snapshots: snapshots,
		roomRepo:  roomRepo,
		logger:    logger,
	}
}

type RestoreOptions struct {
	// OverwriteExisting replaces rooms that already exist in the
	// repository instead of skipping them.
	OverwriteExisting bool

	// PersistentOnly restores only rooms flagged persistent.
	PersistentOnly bool
}

func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		OverwriteExisting: false,
		PersistentOnly:    false,
	}
}

// RestoreFromSnapshot replays the named snapshot into the repository.
func (rs *RestoreService) RestoreFromSnapshot(ctx context.Context, name string, options RestoreOptions) error {
	rs.logger.Infow("starting restore", "snapshot", name,
		"overwrite", options.OverwriteExisting, "persistent_only", options.PersistentOnly)

	data, err := rs.snapshots.LoadSnapshot(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	if data.Version == "" {
		return fmt.Errorf("invalid snapshot: missing version")
	}

	var rooms []*domain.Room
	if len(data.Rooms) > 0 {
		if err := json.Unmarshal(data.Rooms, &rooms); err != nil {
			return fmt.Errorf("failed to unmarshal rooms: %w", err)
		}
	}

	restored := 0
	for _, room := range rooms {
		if options.PersistentOnly && !room.Persistent {
			continue
		}
		if room.Members == nil {
			room.Members = make(map[domain.ParticipantID]struct{})
		}

		existing, err := rs.roomRepo.GetByID(ctx, room.ID)
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return fmt.Errorf("failed to check room %s: %w", room.ID, err)
		}

		if existing != nil {
			if !options.OverwriteExisting {
				rs.logger.Debugw("skipping existing room", "room_id", room.ID)
				continue
			}
			if err := rs.roomRepo.Update(ctx, room); err != nil {
				return fmt.Errorf("failed to update room %s: %w", room.ID, err)
			}
		} else {
			if err := rs.roomRepo.Create(ctx, room); err != nil {
				return fmt.Errorf("failed to create room %s: %w", room.ID, err)
			}
		}
		restored++
	}

	rs.logger.Infow("restore completed", "snapshot", name, "rooms_restored", restored)
	return nil
}

// RestoreLatest restores the most recent snapshot, if any exists.
func (rs *RestoreService) RestoreLatest(ctx context.Context, options RestoreOptions) error {
	names, err := rs.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(names) == 0 {
		rs.logger.Info("no snapshots to restore")
		return nil
	}

	latest := names[0]
	latestStamp, _ := backup.SnapshotTimestamp(latest)
	for _, name := range names[1:] {
		stamp, err := backup.SnapshotTimestamp(name)
		if err != nil {
			continue
		}
		if stamp.After(latestStamp) {
			latest, latestStamp = name, stamp
		}
	}

	return rs.RestoreFromSnapshot(ctx, latest, options)
}
