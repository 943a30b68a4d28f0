// internal/service/transaction/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/service/transaction/domain"
)

// 决策结果的对账结论
const (
	ResultConfirmed = "confirmed" // 存储中的状态正是这条决策写入的
	ResultStale     = "stale"     // 决策基于旧快照，已被其他写入取代
	ResultRequeued  = "requeued"  // 存储仍停留在决策所依据的版本，重新发起检查
	ResultDuplicate = "duplicate" // 同一 (externalId, version) 已处理过
)

// CheckRequester 请求对一笔交易做风控检查。
type CheckRequester interface {
	RequestCheck(ctx context.Context, externalID string) error
}

// Deduplicator 记录已处理的决策结果。首次标记返回 true。
type Deduplicator interface {
	MarkProcessed(ctx context.Context, externalID string, version int64) (bool, error)
	Forget(ctx context.Context, externalID string, version int64) error
}

// TransactionService 是交易的所有者：创建交易、发起检查、对账风控结果。
type TransactionService struct {
	repo              domain.Repository
	checks            CheckRequester
	dedupe            Deduplicator
	processingTimeout time.Duration
	tracer            trace.Tracer
	metrics           *metrics.Metrics
}

func NewTransactionService(repo domain.Repository, checks CheckRequester, dedupe Deduplicator, processingTimeout time.Duration, tracer trace.Tracer, m *metrics.Metrics) *TransactionService {
	if processingTimeout <= 0 {
		processingTimeout = 10 * time.Second
	}
	return &TransactionService{
		repo:              repo,
		checks:            checks,
		dedupe:            dedupe,
		processingTimeout: processingTimeout,
		tracer:            tracer,
		metrics:           m,
	}
}

// CreateTransaction 保存一笔 pending 交易并发送检查请求。
// 保存成功但发送失败时交易仍然存在，调用方可以用同一个 id 重试，ErrAlreadyExists 之后会补发检查请求。
func (s *TransactionService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*TransactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateTransaction")
	defer span.End()

	id := req.TransactionID
	if id == "" {
		id = uuid.NewString()
	}
	tx, err := domain.NewTransaction(id, req.Value)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("transaction.id", tx.ExternalID))

	if err := s.repo.Create(ctx, tx); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save transaction")
			return nil, err
		}
		// 幂等创建：同一笔仍在 pending 的交易重新发送检查请求
		existing, getErr := s.repo.Get(ctx, tx.ExternalID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status.IsTerminal() || !existing.Value.Equal(tx.Value) {
			return nil, err
		}
		tx = existing
	}

	if err := s.checks.RequestCheck(ctx, tx.ExternalID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request fraud check")
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("transaction_id", tx.ExternalID).
		Str("value", tx.Value.String()).
		Msg("✅ Transaction created, fraud check requested")
	return toResponse(tx), nil
}

// GetTransaction 按 externalId 查询。
func (s *TransactionService) GetTransaction(ctx context.Context, externalID string) (*TransactionResponse, error) {
	tx, err := s.repo.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return toResponse(tx), nil
}

// HandleDecisionResult 对账一条风控结果，返回对账结论。
// 结果可能重复投递也可能过期，这里只读存储，从不改写状态：状态的唯一写入者是风控服务的条件更新。
func (s *TransactionService) HandleDecisionResult(ctx context.Context, evt *domain.DecisionResultEvent, stale bool) (string, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandleDecisionResult", trace.WithAttributes(
		attribute.String("transaction.id", evt.TransactionID),
		attribute.Int64("decision.version", evt.Version),
		attribute.String("decision.status", string(evt.NewStatus)),
	))
	defer span.End()

	processingCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	outcome, err := s.reconcile(processingCtx, evt, stale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reconcile decision result")
		return "", err
	}
	span.SetAttributes(attribute.String("decision.outcome", outcome))
	if s.metrics != nil {
		s.metrics.ResultsTotal.WithLabelValues(outcome).Inc()
	}
	return outcome, nil
}

func (s *TransactionService) reconcile(ctx context.Context, evt *domain.DecisionResultEvent, stale bool) (string, error) {
	log := logger.Ctx(ctx).With().
		Str("transaction_id", evt.TransactionID).
		Int64("version", evt.Version).
		Str("status", string(evt.NewStatus)).
		Logger()

	tx, err := s.repo.Get(ctx, evt.TransactionID)
	if err != nil {
		return "", err
	}

	var outcome string
	switch {
	case tx.Version == evt.Version && tx.Status == domain.StatusPending:
		// 决策没有落库（发布了过期决策，或存储回滚），重新发起检查
		outcome = ResultRequeued
	case !stale && tx.Version == evt.Version+1 && tx.Status == evt.NewStatus:
		outcome = ResultConfirmed
	default:
		log.Warn().
			Str("stored_status", string(tx.Status)).
			Int64("stored_version", tx.Version).
			Msg("Stale decision result ignored")
		return ResultStale, nil
	}

	first, err := s.dedupe.MarkProcessed(ctx, evt.TransactionID, evt.Version)
	if err != nil {
		return "", err
	}
	if !first {
		log.Info().Msg("Duplicate decision result ignored")
		return ResultDuplicate, nil
	}

	if outcome == ResultRequeued {
		if err := s.checks.RequestCheck(ctx, evt.TransactionID); err != nil {
			// 释放标记，重新投递时还能再次发起检查
			if forgetErr := s.dedupe.Forget(ctx, evt.TransactionID, evt.Version); forgetErr != nil {
				log.Error().Err(forgetErr).Msg("Failed to release dedupe marker")
			}
			return "", err
		}
		log.Warn().Msg("Decision was not applied, fraud check requested again")
		return outcome, nil
	}

	log.Info().Msg("✅ Decision result confirmed")
	return outcome, nil
}
