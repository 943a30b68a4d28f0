// internal/service/transaction/infrastructure/redis_repository.go
package infrastructure

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/transaction/domain"
)

const (
	casScriptName    = "transaction_cas"
	createScriptName = "transaction_create"
)

// RedisRepository 是 domain.Repository 的 Redis 实现。
// 每笔交易是一个 Hash，条件更新由 Lua 脚本在服务端一次性完成。
type RedisRepository struct {
	redisClient *redis.Client
}

// NewRedisRepository 在创建时加载所有需要的 Lua 脚本。
func NewRedisRepository(ctx context.Context, redisClient *redis.Client) (*RedisRepository, error) {
	if err := redisClient.LoadScriptFromContent(ctx, casScriptName, casScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical cas script")
	}
	if err := redisClient.LoadScriptFromContent(ctx, createScriptName, createScript); err != nil {
		return nil, errors.Wrap(err, "failed to load create script")
	}
	return &RedisRepository{redisClient: redisClient}, nil
}

func transactionKey(externalID string) string {
	return fmt.Sprintf("fraudguard:tx:{%s}", externalID)
}

func (r *RedisRepository) Get(ctx context.Context, externalID string) (*domain.Transaction, error) {
	fields, err := r.redisClient.GetClient().HGetAll(ctx, transactionKey(externalID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall transaction %s", externalID)
	}
	if len(fields) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "external id %s", externalID)
	}

	value, err := decimal.NewFromString(fields["value"])
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt value for transaction %s", externalID)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt version for transaction %s", externalID)
	}
	return &domain.Transaction{
		ExternalID: externalID,
		Value:      value,
		Status:     domain.Status(fields["status"]),
		Version:    version,
	}, nil
}

func (r *RedisRepository) ConditionalUpdate(ctx context.Context, externalID string, expectedVersion int64, newStatus domain.Status) (domain.UpdateResult, error) {
	keys := []string{transactionKey(externalID)}
	result, err := r.redisClient.RunScript(ctx, casScriptName, keys, expectedVersion, string(newStatus))
	if err != nil {
		return domain.UpdateResult{}, errors.Wrapf(err, "conditional update %s@%d", externalID, expectedVersion)
	}

	code, ok := result.(int64)
	if !ok {
		return domain.UpdateResult{}, errors.Errorf("unexpected result type from cas script: %T", result)
	}
	// 0: 版本不匹配，-1: 记录不存在。两者都等价于 SQL 中影响行数为 0。
	return domain.UpdateResult{Applied: code == 1}, nil
}

func (r *RedisRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	keys := []string{transactionKey(tx.ExternalID)}
	result, err := r.redisClient.RunScript(ctx, createScriptName, keys, tx.Value.String(), string(tx.Status), tx.Version)
	if err != nil {
		return errors.Wrapf(err, "create transaction %s", tx.ExternalID)
	}
	if code, ok := result.(int64); !ok || code != 1 {
		return errors.Wrapf(domain.ErrAlreadyExists, "external id %s", tx.ExternalID)
	}
	return nil
}

var casScript = `
-- KEYS[1]: 交易 Hash, 例如 fraudguard:tx:{T1}
-- ARGV[1]: 期望的版本号
-- ARGV[2]: 新状态

local current = redis.call('HGET', KEYS[1], 'version')
if not current then
    return -1 -- 记录不存在
end

if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0 -- 版本已被其他写入者推进
end

redis.call('HSET', KEYS[1], 'status', ARGV[2], 'version', tonumber(ARGV[1]) + 1)
return 1
`

var createScript = `
-- KEYS[1]: 交易 Hash
-- ARGV[1]: value, ARGV[2]: status, ARGV[3]: version

if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end

redis.call('HSET', KEYS[1], 'value', ARGV[1], 'status', ARGV[2], 'version', ARGV[3])
return 1
`
