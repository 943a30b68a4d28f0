// internal/service/transaction/infrastructure/factory.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/database"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/transaction/domain"
)

// NewRepository 根据 store.driver 构建交易存储，返回的 closer 在关停时释放底层连接。
func NewRepository(ctx context.Context, cfg *config.Config) (domain.Repository, func() error, error) {
	switch cfg.Store.Driver {
	case config.StoreMySQL:
		db, err := database.OpenGorm(cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, errors.Wrap(err, "get sql.DB from gorm")
		}
		logger.Ctx(ctx).Info().Str("host", cfg.MySQL.Host).Str("database", cfg.MySQL.Database).Msg("✅ MySQL transaction store ready.")
		return NewGormRepository(db), sqlDB.Close, nil

	case config.StoreRedis:
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		repo, err := NewRedisRepository(ctx, client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Ctx(ctx).Info().Str("addr", cfg.Redis.Addr).Msg("✅ Redis transaction store ready.")
		return repo, client.Close, nil

	case config.StoreMemory:
		logger.Ctx(ctx).Warn().Msg("Using in-memory transaction store, data is lost on restart")
		return NewMemoryRepository(), func() error { return nil }, nil
	}
	return nil, nil, errors.Wrapf(config.ErrInvalidConfig, "unknown store.driver %q", cfg.Store.Driver)
}
