// internal/service/transaction/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"fraudguard/internal/pkg/database"
	"fraudguard/internal/service/transaction/domain"
)

// GormRepository 是 domain.Repository 的 GORM/MySQL 实现
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Get(ctx context.Context, externalID string) (*domain.Transaction, error) {
	var model TransactionModel
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrNotFound, "external id %s", externalID)
		}
		return nil, errors.Wrapf(err, "query transaction %s", externalID)
	}
	return toDomainTransaction(&model), nil
}

// ConditionalUpdate 生成单条语句
//
//	UPDATE transactions SET status=?, version=?, updated_at=? WHERE external_id = ? AND version = ?
//
// 由 InnoDB 行锁保证原子性，不需要数据库事务，影响行数为 0 即版本冲突。
func (r *GormRepository) ConditionalUpdate(ctx context.Context, externalID string, expectedVersion int64, newStatus domain.Status) (domain.UpdateResult, error) {
	res := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("external_id = ? AND version = ?", externalID, expectedVersion).
		Updates(map[string]interface{}{
			"status":  string(newStatus),
			"version": expectedVersion + 1,
		})
	if res.Error != nil {
		return domain.UpdateResult{}, errors.Wrapf(res.Error, "conditional update %s@%d", externalID, expectedVersion)
	}
	return domain.UpdateResult{Applied: res.RowsAffected == 1}, nil
}

func (r *GormRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	model := fromDomainTransaction(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return errors.Wrapf(domain.ErrAlreadyExists, "external id %s", tx.ExternalID)
		}
		return errors.Wrapf(err, "insert transaction %s", tx.ExternalID)
	}
	return nil
}
