// internal/service/transaction/infrastructure/redis_deduplicator.go
package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"fraudguard/internal/pkg/redis"
)

// RedisDeduplicator 用 SETNX 记录已处理的 (externalId, version)，重复投递的决策结果只处理一次。
type RedisDeduplicator struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewRedisDeduplicator(redisClient *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{redisClient: redisClient, ttl: ttl}
}

func decisionKey(externalID string, version int64) string {
	return fmt.Sprintf("fraudguard:decision:{%s}:%d", externalID, version)
}

// MarkProcessed 首次标记返回 true，已存在返回 false。
func (d *RedisDeduplicator) MarkProcessed(ctx context.Context, externalID string, version int64) (bool, error) {
	ok, err := d.redisClient.GetClient().SetNX(ctx, decisionKey(externalID, version), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx decision %s@%d", externalID, version)
	}
	return ok, nil
}

// Forget 删除标记。
func (d *RedisDeduplicator) Forget(ctx context.Context, externalID string, version int64) error {
	if err := d.redisClient.GetClient().Del(ctx, decisionKey(externalID, version)).Err(); err != nil {
		return errors.Wrapf(err, "del decision %s@%d", externalID, version)
	}
	return nil
}

// MemoryDeduplicator 是进程内实现，不过期。
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

func (d *MemoryDeduplicator) MarkProcessed(_ context.Context, externalID string, version int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := decisionKey(externalID, version)
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduplicator) Forget(_ context.Context, externalID string, version int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, decisionKey(externalID, version))
	return nil
}
