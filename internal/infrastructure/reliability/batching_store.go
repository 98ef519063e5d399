package reliability

import (
	"context"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/pkg/batch"

	"go.uber.org/zap"
)

// BatchingRoomStore coalesces bursts of room-state saves into a single
// write. Message storms produce one save per message; only the newest
// snapshot matters, so intermediate ones are dropped.
type BatchingRoomStore struct {
	store   ports.RoomStore
	batcher *batch.Batcher
	logger  *zap.SugaredLogger
}

type saveOp struct {
	store ports.RoomStore
	rooms []*domain.Room
}

func (op *saveOp) Execute(ctx context.Context) error {
	return op.store.SaveRoomState(ctx, op.rooms)
}

// lastWriteProcessor executes only the newest save in a batch.
type lastWriteProcessor struct {
	logger *zap.SugaredLogger
}

func (p *lastWriteProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	if len(operations) == 0 {
		return nil
	}
	last := operations[len(operations)-1]
	if err := last.Execute(ctx); err != nil {
		p.logger.Warnw("coalesced room state save failed", "error", err, "coalesced", len(operations))
		return err
	}
	return nil
}

func NewBatchingRoomStore(store ports.RoomStore, cfg batch.Config, logger *zap.SugaredLogger) *BatchingRoomStore {
	return &BatchingRoomStore{
		store:   store,
		batcher: batch.NewBatcher(cfg, &lastWriteProcessor{logger: logger}),
		logger:  logger,
	}
}

func (s *BatchingRoomStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	// Push any queued save down first so the read sees it.
	if err := s.batcher.Flush(ctx); err != nil {
		s.logger.Warnw("flush before load failed", "error", err)
	}
	return s.store.LoadRoomState(ctx)
}

func (s *BatchingRoomStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	return s.batcher.Add(&saveOp{store: s.store, rooms: rooms})
}

// Close flushes the pending save and stops the background flusher.
func (s *BatchingRoomStore) Close() error {
	err := s.batcher.Flush(context.Background())
	s.batcher.Stop()
	return err
}
