package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// SnapshotCache keeps the last-known-good raw snapshot per ticker in redis
// with a TTL. A degraded market-data collaborator then costs staleness, not
// coverage. Cache misses and redis failures are soft: callers fall through
// to the unavailable path.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a snapshot cache over an existing redis client.
func New(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Connect dials redis and verifies the connection.
func Connect(ctx context.Context, addr string, db int, ttl time.Duration) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, ttl), nil
}

func key(ticker string) string {
	return "convictionrun:snapshot:" + ticker
}

// Get returns the cached snapshot for a ticker, if present and unexpired.
func (c *SnapshotCache) Get(ctx context.Context, ticker string) (domain.Snapshot, bool) {
	b, err := c.client.Get(ctx, key(ticker)).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("snapshot cache read failed")
		return domain.Snapshot{}, false
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("snapshot cache entry corrupt")
		return domain.Snapshot{}, false
	}
	return snap, true
}

// Put stores a snapshot with the configured TTL. Failures are logged and
// swallowed; the cache is an optimization, not a dependency.
func (c *SnapshotCache) Put(ctx context.Context, snap domain.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Str("ticker", snap.Ticker).Msg("snapshot marshal failed")
		return
	}
	if err := c.client.Set(ctx, key(snap.Ticker), b, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("ticker", snap.Ticker).Msg("snapshot cache write failed")
	}
}

// Close releases the redis client.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
