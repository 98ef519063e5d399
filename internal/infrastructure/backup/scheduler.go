package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commlink/internal/core/ports"
	"commlink/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler takes periodic room-state snapshots so room history and
// membership survive a cold restart of a memory-backed deployment.
type Scheduler struct {
	snapshots     *backup.SnapshotService
	roomRepo      ports.RoomRepository
	interval      time.Duration
	retentionDays int
	logger        *zap.SugaredLogger
	stopChan      chan struct{}
}

type Config struct {
	Interval      time.Duration
	RetentionDays int
}

func NewScheduler(
	snapshots *backup.SnapshotService,
	roomRepo ports.RoomRepository,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		snapshots:     snapshots,
		roomRepo:      roomRepo,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start blocks, snapshotting on the configured interval until Stop or
// context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runSnapshot(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSnapshot(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runSnapshot(ctx context.Context) {
	data, err := s.collectData(ctx)
	if err != nil {
		s.logger.Errorw("failed to collect snapshot data", "error", err)
		return
	}

	name, err := s.snapshots.CreateSnapshot(ctx, data)
	if err != nil {
		s.logger.Errorw("failed to create snapshot", "error", err)
		return
	}

	s.logger.Infow("room snapshot created", "snapshot", name)

	if err := s.cleanupOldSnapshots(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old snapshots", "error", err)
	}
}

func (s *Scheduler) collectData(ctx context.Context) (*backup.SnapshotData, error) {
	rooms, err := s.roomRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	raw, err := json.Marshal(rooms)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rooms: %w", err)
	}

	return &backup.SnapshotData{
		Rooms: raw,
		Metadata: map[string]interface{}{
			"room_count":    len(rooms),
			"snapshot_type": "scheduled",
		},
	}, nil
}

func (s *Scheduler) cleanupOldSnapshots(ctx context.Context) error {
	names, err := s.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, name := range names {
		stamp, err := backup.SnapshotTimestamp(name)
		if err != nil {
			s.logger.Warnw("failed to parse snapshot timestamp", "snapshot", name, "error", err)
			continue
		}

		if stamp.Before(cutoff) {
			if err := s.snapshots.DeleteSnapshot(ctx, name); err != nil {
				s.logger.Warnw("failed to delete old snapshot", "snapshot", name, "error", err)
				continue
			}
			s.logger.Infow("deleted old snapshot", "snapshot", name, "age", time.Since(stamp))
		}
	}

	return nil
}
