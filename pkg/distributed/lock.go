package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the lock expired or was taken
// over by another holder.
var ErrNotHeld = errors.New("lock not held by this instance")

// DistributedLock is a Redis SET NX lock with background renewal. The
// value is random per holder so Unlock cannot release someone else's
// acquisition.
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	stopOnce  sync.Once
	stopRenew chan struct{}
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client:    client,
		key:       key,
		value:     lockValue(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

func lockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Lock blocks until the lock is acquired or the default 30s deadline
// passes.
func (l *DistributedLock) Lock(ctx context.Context) error {
	return l.LockWithTimeout(ctx, 30*time.Second)
}

// LockWithTimeout blocks until the lock is acquired or timeout passes.
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if acquired {
			go l.renew(ctx)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock acquisition timeout for %s", l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if acquired {
		go l.renew(ctx)
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call more than once; only the
// first call can actually delete the key.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopRenew) })

	// Delete only if the value is still ours.
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if n, ok := result.(int64); ok && n == 0 {
		return ErrNotHeld
	}
	return nil
}

// renew keeps the key alive at half-TTL cadence while the lock is
// held.
func (l *DistributedLock) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current, err := l.client.Get(ctx, l.key).Result()
			if err != nil || current != l.value {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		}
	}
}

// IsLocked reports whether any holder currently has the lock.
func (l *DistributedLock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{client: client, prefix: prefix}
}

func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}
