package distributed

import (
	"context"
	"fmt"
	"time"

	"commlink/internal/core/domain"
	"commlink/pkg/cache"
	"commlink/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	registrationTTL = 5 * time.Minute

	// lookupCacheTTL bounds how stale a cached participant->instance
	// mapping may get. Signal routing tolerates a few seconds of
	// staleness: a frame routed to a departed instance is dropped and
	// the sender retries after the next presence update.
	lookupCacheTTL = 5 * time.Second
)

// SharedParticipantRegistry maps connected participants to the relay
// instance holding their socket, shared across instances via Redis.
// Registrations carry a TTL so a crashed relay's entries age out.
// Lookups are cached locally for a short TTL to keep per-frame routing
// off the Redis hot path.
type SharedParticipantRegistry struct {
	client      *redis.Client
	lockManager *distributed.LockManager
	lookupCache *cache.Cache
	instanceID  string
	logger      *zap.SugaredLogger
	prefix      string
}

func NewSharedParticipantRegistry(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *SharedParticipantRegistry {
	return &SharedParticipantRegistry{
		client:      client,
		lockManager: distributed.NewLockManager(client, "commlink:lock:"),
		lookupCache: cache.New(lookupCacheTTL),
		instanceID:  instanceID,
		logger:      logger,
		prefix:      "commlink:participant:",
	}
}

func (r *SharedParticipantRegistry) participantKey(id domain.ParticipantID) string {
	return r.prefix + string(id)
}

func (r *SharedParticipantRegistry) instanceKey(instanceID string) string {
	return fmt.Sprintf("commlink:instance:%s:participants", instanceID)
}

func (r *SharedParticipantRegistry) Register(ctx context.Context, participantID domain.ParticipantID, instanceID string) error {
	key := r.participantKey(participantID)
	if err := r.client.Set(ctx, key, instanceID, registrationTTL).Err(); err != nil {
		return fmt.Errorf("failed to register participant: %w", err)
	}

	instanceKey := r.instanceKey(instanceID)
	if err := r.client.SAdd(ctx, instanceKey, string(participantID)).Err(); err != nil {
		return fmt.Errorf("failed to add participant to instance set: %w", err)
	}
	r.client.Expire(ctx, instanceKey, 2*registrationTTL)

	r.lookupCache.Set(string(participantID), instanceID)
	return nil
}

func (r *SharedParticipantRegistry) Lookup(ctx context.Context, participantID domain.ParticipantID) (string, error) {
	if cached, ok := r.lookupCache.Get(string(participantID)); ok {
		return cached.(string), nil
	}

	instanceID, err := r.client.Get(ctx, r.participantKey(participantID)).Result()
	if err == redis.Nil {
		return "", domain.ErrParticipantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up participant: %w", err)
	}

	r.lookupCache.Set(string(participantID), instanceID)
	return instanceID, nil
}

func (r *SharedParticipantRegistry) Unregister(ctx context.Context, participantID domain.ParticipantID) error {
	r.lookupCache.Delete(string(participantID))
	key := r.participantKey(participantID)

	instanceID, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get participant: %w", err)
	}

	r.client.SRem(ctx, r.instanceKey(instanceID), string(participantID))
	return r.client.Del(ctx, key).Err()
}

// Refresh extends a live registration's TTL; relays call this from
// their ping loop.
func (r *SharedParticipantRegistry) Refresh(ctx context.Context, participantID domain.ParticipantID) error {
	return r.client.Expire(ctx, r.participantKey(participantID), registrationTTL).Err()
}

// CleanupInstance removes every registration owned by an instance,
// typically on shutdown. A lock keeps two instances from racing on
// the same cleanup, such as a restart reusing an instance ID.
func (r *SharedParticipantRegistry) CleanupInstance(ctx context.Context, instanceID string) error {
	lock := r.lockManager.AcquireLock("cleanup:"+instanceID, 30*time.Second)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire cleanup lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			r.logger.Warnw("failed to release cleanup lock", "error", err)
		}
	}()

	instanceKey := r.instanceKey(instanceID)
	ids, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get instance participants: %w", err)
	}

	for _, id := range ids {
		if err := r.Unregister(ctx, domain.ParticipantID(id)); err != nil {
			r.logger.Warnw("failed to unregister participant during cleanup",
				"participant_id", id,
				"error", err,
			)
		}
	}

	return r.client.Del(ctx, instanceKey).Err()
}
