// internal/service/transaction/domain/repository.go
package domain

import "context"

// UpdateResult 是条件更新的结果。Applied 为 false 表示存储中的版本已被其他写入者推进。
type UpdateResult struct {
	Applied bool
}

// Repository 定义了交易的持久化接口，由基础设施层实现。
type Repository interface {
	// Get 按 externalId 点查，不存在时返回 ErrNotFound。
	Get(ctx context.Context, externalID string) (*Transaction, error)

	// ConditionalUpdate 原子地执行 status=newStatus, version=expectedVersion+1，
	// 当且仅当当前存储的 version == expectedVersion。必须是单条原子操作，不允许先读后写。
	ConditionalUpdate(ctx context.Context, externalID string, expectedVersion int64, newStatus Status) (UpdateResult, error)

	// Create 保存一笔新交易，externalId 已存在时返回 ErrAlreadyExists。
	Create(ctx context.Context, tx *Transaction) error
}
