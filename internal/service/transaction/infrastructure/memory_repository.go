// internal/service/transaction/infrastructure/memory_repository.go
package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"fraudguard/internal/service/transaction/domain"
)

// MemoryRepository 是进程内实现，用于本地运行和测试。
// 互斥锁扮演数据库行锁的角色，只保证单次 ConditionalUpdate 的原子性。
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]domain.Transaction
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]domain.Transaction)}
}

func (r *MemoryRepository) Get(_ context.Context, externalID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[externalID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "external id %s", externalID)
	}
	return &row, nil
}

func (r *MemoryRepository) ConditionalUpdate(_ context.Context, externalID string, expectedVersion int64, newStatus domain.Status) (domain.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[externalID]
	if !ok || row.Version != expectedVersion {
		return domain.UpdateResult{Applied: false}, nil
	}
	row.Status = newStatus
	row.Version = expectedVersion + 1
	r.rows[externalID] = row
	return domain.UpdateResult{Applied: true}, nil
}

func (r *MemoryRepository) Create(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[tx.ExternalID]; ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "external id %s", tx.ExternalID)
	}
	r.rows[tx.ExternalID] = *tx
	return nil
}
