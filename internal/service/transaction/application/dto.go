// internal/service/transaction/application/dto.go
package application

import (
	"github.com/shopspring/decimal"

	"fraudguard/internal/service/transaction/domain"
)

// CreateTransactionRequest 是创建交易的入参，TransactionID 为空时由服务生成。
type CreateTransactionRequest struct {
	TransactionID string          `json:"transactionId"`
	Value         decimal.Decimal `json:"value"`
}

// TransactionResponse 是对外暴露的交易视图。
type TransactionResponse struct {
	TransactionID string          `json:"transactionId"`
	Value         decimal.Decimal `json:"value"`
	Status        domain.Status   `json:"status"`
	Version       int64           `json:"version"`
}

func toResponse(tx *domain.Transaction) *TransactionResponse {
	return &TransactionResponse{
		TransactionID: tx.ExternalID,
		Value:         tx.Value,
		Status:        tx.Status,
		Version:       tx.Version,
	}
}
