// internal/service/transaction/domain/transaction.go
package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Transaction 是交易聚合的根实体。
// Version 仅作为乐观并发控制的 CAS 令牌使用，每次成功更新严格加 1，不承载业务含义。
type Transaction struct {
	ExternalID string
	Value      decimal.Decimal
	Status     Status
	Version    int64
}

// NewTransaction 创建一笔待分析的交易，初始状态 pending、版本 0。
func NewTransaction(externalID string, value decimal.Decimal) (*Transaction, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errors.Wrap(ErrInvalidTransaction, "external id is required")
	}
	if len(externalID) > MaxExternalIDLength {
		return nil, errors.Wrapf(ErrInvalidTransaction, "external id longer than %d characters", MaxExternalIDLength)
	}
	if value.IsNegative() {
		return nil, errors.Wrap(ErrInvalidTransaction, "value must not be negative")
	}
	if !value.Equal(value.Truncate(MaxValueScale)) {
		return nil, errors.Wrapf(ErrInvalidTransaction, "value must have at most %d decimal places", MaxValueScale)
	}
	if value.GreaterThanOrEqual(maxValueBound) {
		return nil, errors.Wrapf(ErrInvalidTransaction, "value must have at most %d integer digits", MaxValueIntegerDigits)
	}
	return &Transaction{
		ExternalID: externalID,
		Value:      value,
		Status:     StatusPending,
		Version:    0,
	}, nil
}

// 以下常量与 transactions 表的列定义一致：external_id VARCHAR(64)、value DECIMAL(18,2)。
const (
	MaxExternalIDLength   = 64
	MaxValueScale         = 2
	MaxValueIntegerDigits = 16
)

var maxValueBound = decimal.New(1, MaxValueIntegerDigits)
