// internal/service/antifraud/domain/engine.go
package domain

import (
	"github.com/shopspring/decimal"

	txdomain "fraudguard/internal/service/transaction/domain"
)

// RuleEngine 根据交易快照给出终态决策。实现必须是纯函数：不读写外部状态，同样的输入永远得到同样的输出。
type RuleEngine interface {
	Decide(tx *txdomain.Transaction, maxAmount decimal.Decimal) txdomain.Status
}

// Decide 是默认规则：金额严格大于上限时拒绝，等于上限仍然通过。
func Decide(tx *txdomain.Transaction, maxAmount decimal.Decimal) txdomain.Status {
	if tx.Value.GreaterThan(maxAmount) {
		return txdomain.StatusRejected
	}
	return txdomain.StatusApproved
}

// ThresholdEngine 把 Decide 适配为 RuleEngine。
type ThresholdEngine struct{}

func NewThresholdEngine() ThresholdEngine {
	return ThresholdEngine{}
}

func (ThresholdEngine) Decide(tx *txdomain.Transaction, maxAmount decimal.Decimal) txdomain.Status {
	return Decide(tx, maxAmount)
}
