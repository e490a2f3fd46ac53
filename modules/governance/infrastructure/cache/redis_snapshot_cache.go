package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

const (
	keyPrefix       = "metaregistry:conformance"
	DefaultTTL      = 10 * time.Minute
	scanBatchSize   = 200
	maxScanRequests = 1000
)

// RedisSnapshotCache stores conformance snapshots as JSON strings under
// metaregistry:conformance:{tenant}:{entity}:{pack}.
type RedisSnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSnapshotCache(client redis.Cmdable, ttl time.Duration) (*RedisSnapshotCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}, nil
}

var _ ports.SnapshotCache = (*RedisSnapshotCache)(nil)

func snapshotKey(tenantID string, entityID string, packID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, tenantID, entityID, packID)
}

func (c *RedisSnapshotCache) Get(ctx context.Context, tenantID string, entityID string, packID string) (types.ConformanceResult, bool, error) {
	raw, err := c.client.Get(ctx, snapshotKey(tenantID, entityID, packID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ConformanceResult{}, false, nil
	}
	if err != nil {
		return types.ConformanceResult{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	var out types.ConformanceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.ConformanceResult{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, tenantID string, result types.ConformanceResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(tenantID, result.EntityID, result.PackID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) InvalidateEntity(ctx context.Context, tenantID string, entityID string) error {
	return c.deleteMatching(ctx, fmt.Sprintf("%s:%s:%s:*", keyPrefix, tenantID, entityID))
}

// InvalidateTenant drops the tenant's snapshots; an empty tenantID drops all of them.
func (c *RedisSnapshotCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return c.deleteMatching(ctx, keyPrefix+":*")
	}
	return c.deleteMatching(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, tenantID))
}

func (c *RedisSnapshotCache) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for range maxScanRequests {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan snapshots: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete snapshots: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
	return errors.New("scan snapshots: too many pages")
}
