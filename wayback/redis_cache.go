package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces cached CDX results.
const RedisKeyPrefix = "chronovista:cdx:"

// RedisCache stores CDX results in Redis with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ SnapshotCache = (*RedisCache)(nil)

// NewRedisCache wraps client. A ttl of zero stores entries without expiry.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(videoID string) string {
	return RedisKeyPrefix + videoID
}

// Get returns the cached snapshots for videoID.
func (c *RedisCache) Get(ctx context.Context, videoID string) ([]CDXSnapshot, bool, error) {
	data, err := c.client.Get(ctx, redisKey(videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var snapshots []CDXSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, false, fmt.Errorf("decode cached snapshots: %w", err)
	}
	return snapshots, true, nil
}

// Set stores snapshots under the video's key.
func (c *RedisCache) Set(ctx context.Context, videoID string, snapshots []CDXSnapshot) error {
	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("encode snapshots: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(videoID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
