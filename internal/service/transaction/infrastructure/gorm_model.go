// internal/service/transaction/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"

	"fraudguard/internal/service/transaction/domain"
)

// TransactionModel 对应数据库中的 transactions 表
type TransactionModel struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID string          `gorm:"column:external_id;type:varchar(64);uniqueIndex:uk_transactions_external_id;not null"`
	Value      decimal.Decimal `gorm:"column:value;type:decimal(18,2);not null"`
	Status     string          `gorm:"column:status;type:varchar(16);not null"`
	Version    int64           `gorm:"column:version;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

// TableName 指定 GORM 应该使用的表名
func (TransactionModel) TableName() string {
	return "transactions"
}

func toDomainTransaction(m *TransactionModel) *domain.Transaction {
	if m == nil {
		return nil
	}
	return &domain.Transaction{
		ExternalID: m.ExternalID,
		Value:      m.Value,
		Status:     domain.Status(m.Status),
		Version:    m.Version,
	}
}

func fromDomainTransaction(tx *domain.Transaction) *TransactionModel {
	return &TransactionModel{
		ExternalID: tx.ExternalID,
		Value:      tx.Value,
		Status:     string(tx.Status),
		Version:    tx.Version,
	}
}
