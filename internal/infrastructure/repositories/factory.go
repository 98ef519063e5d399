package repositories

import (
	"context"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	badgerrepo "commlink/internal/infrastructure/repositories/badger"
	"commlink/internal/infrastructure/repositories/memory"
	redisrepo "commlink/internal/infrastructure/repositories/redis"
	"commlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates storage backends per configuration, with
// an automatic fallback to in-memory stores when the configured
// backend is unreachable.
type RepositoryFactory struct {
	backend     string
	redisClient *redis.Client
	badgerPath  string
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend:    cfg.Storage.Backend,
		badgerPath: cfg.Storage.Badger.Path,
		logger:     logger,
	}

	if cfg.Storage.Backend == "redis" {
		client, err := redisrepo.NewRedisClient(
			cfg.Storage.Redis.Address,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
			cfg.Storage.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory storage",
				"error", err,
			)
			factory.backend = "memory"
		} else {
			factory.redisClient = client
			logger.Info("using Redis storage")
		}
	}

	if factory.backend == "memory" {
		logger.Info("using memory storage")
	}

	return factory, nil
}

// RedisClient exposes the shared client for the frame bus and the
// participant registry; nil unless the redis backend is active.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// roomCacheTTL bounds how long a room read served from another
// node's mutation can be stale.
const roomCacheTTL = 30 * time.Second

// CreateRoomRepository creates the server-side room catalog. The
// redis backend is wrapped in a read-through TTL cache; the memory
// backend already answers from local maps and gains nothing from one.
func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	if f.backend == "redis" && f.redisClient != nil {
		return NewCachedRoomRepository(redisrepo.NewRedisRoomRepository(f.redisClient), roomCacheTTL)
	}
	return memory.NewMemoryRoomRepository()
}

// CreateRoomStore creates the client-side room snapshot store.
func (f *RepositoryFactory) CreateRoomStore(participantID domain.ParticipantID) (ports.RoomStore, error) {
	switch {
	case f.backend == "redis" && f.redisClient != nil:
		return redisrepo.NewRedisRoomStore(f.redisClient, participantID), nil
	case f.backend == "badger":
		return badgerrepo.NewBadgerRoomStore(f.badgerPath, f.logger)
	default:
		return memory.NewMemoryRoomStore(), nil
	}
}

// Close closes the Redis connection if one is open.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks backend connectivity.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.backend == "redis" && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
