package reliability

import (
	"context"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/pkg/circuitbreaker"
	"commlink/pkg/retry"
	"commlink/pkg/tracing"

	"go.uber.org/zap"
)

// RoomStoreWrapper adds retries and a circuit breaker around a
// RoomStore, so a flapping backend degrades to in-memory operation
// instead of stalling every save on its timeout.
type RoomStoreWrapper struct {
	store  ports.RoomStore
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewRoomStoreWrapper(
	store ports.RoomStore,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) ports.RoomStore {
	wrapper := &RoomStoreWrapper{
		store:          store,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("room store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *RoomStoreWrapper) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "load", "")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.store.LoadRoomState(ctx)
	}

	return retry.DoWithResult(ctx, w.retryConfig, func() ([]*domain.Room, error) {
		var rooms []*domain.Room
		err := w.circuitBreaker.Execute(ctx, func() error {
			var loadErr error
			rooms, loadErr = w.store.LoadRoomState(ctx)
			return loadErr
		})
		return rooms, err
	})
}

func (w *RoomStoreWrapper) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "save", "")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.store.SaveRoomState(ctx, rooms)
	}

	return retry.Do(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.store.SaveRoomState(ctx, rooms)
		})
	})
}

func (w *RoomStoreWrapper) Close() error {
	return w.store.Close()
}

// BreakerState exposes the breaker for health reporting.
func (w *RoomStoreWrapper) BreakerState() circuitbreaker.State {
	return w.circuitBreaker.State()
}
