package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCKS
// ══════════════════════════════════════════════════════════════════════════════

// acquireScript sets every key to the owner token or none of them.
var acquireScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call("exists", key) == 1 then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call("set", key, ARGV[1], "PX", ARGV[2])
end
return 1
`)

// releaseScript deletes only the keys still owned by the token.
var releaseScript = redis.NewScript(`
local released = 0
for _, key in ipairs(KEYS) do
	if redis.call("get", key) == ARGV[1] then
		released = released + redis.call("del", key)
	end
end
return released
`)

// Locker implements port.Locker with Redis keys holding a random owner token.
// A lock expires after its TTL even if the holder dies.
type Locker struct {
	cache  *Cache
	logger *slog.Logger
}

var _ port.Locker = (*Locker)(nil)

// NewLocker creates a new Locker.
func NewLocker(cache *Cache, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{cache: cache, logger: logger.With("component", "redis_locker")}
}

// TryLock implements port.Locker.
func (l *Locker) TryLock(ctx context.Context, keys []string, ttl time.Duration) (port.ReleaseFunc, error) {
	if len(keys) == 0 {
		return func(context.Context) error { return nil }, nil
	}
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}

	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" {
			return nil, ErrCacheKeyEmpty
		}
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, LockKey(k))
		}
	}
	sort.Strings(sorted)

	token := uuid.New().String()
	ok, err := acquireScript.Run(ctx, l.cache.client, sorted, token, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock: %w", err)
	}
	if ok == 0 {
		return nil, shared.ErrLocked
	}

	l.logger.Debug("lock acquired", "keys", sorted, "ttl", ttl)

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.cache.client, sorted, token).Int()
		if err != nil {
			return fmt.Errorf("redis: release lock: %w", err)
		}
		if n < len(sorted) {
			l.logger.Warn("lock expired before release", "keys", sorted, "released", n)
		}
		return nil
	}, nil
}

// IsLocked implements port.Locker.
func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	return l.cache.Exists(ctx, LockKey(key))
}
