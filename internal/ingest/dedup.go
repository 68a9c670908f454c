package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultDedupTTL = 24 * time.Hour

// RecordingKey is the dedup key for one call's recording event.
func RecordingKey(callID string) string {
	return "webhook:recording:" + callID
}

// RedisDeduper claims keys with SET NX so concurrent or retried deliveries of
// the same event are processed once per TTL window.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// Claim returns true when the caller is the first to see key.
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, key).Err()
}
