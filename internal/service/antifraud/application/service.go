// internal/service/antifraud/application/service.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/service/antifraud/domain"
	txdomain "fraudguard/internal/service/transaction/domain"
)

// DecisionPublisher 把决策结果发送到出站主题。applied 表示这次决策是否真正写入了存储。
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, evt txdomain.DecisionResultEvent, applied bool) error
}

// Options 在启动时从配置得到，之后不再变化。
type Options struct {
	MaxAmount         decimal.Decimal
	ConflictPolicy    string
	ConflictRetries   int
	ProcessingTimeout time.Duration
}

// Outcome 描述一次检查请求的处理结果。
type Outcome struct {
	Decision  txdomain.DecisionResultEvent
	Applied   bool // 条件更新是否生效
	Published bool // 是否发布了决策结果
	Replayed  bool // 交易在读取时已是终态，重新发布已有结果
}

// AnalysisService 编排 读取 → 决策 → 条件更新 → 发布 四个步骤。
// 它不持有任何锁，并发正确性完全依赖存储的条件更新。
type AnalysisService struct {
	repo      txdomain.Repository
	engine    domain.RuleEngine
	publisher DecisionPublisher
	opts      Options
	tracer    trace.Tracer
	metrics   *metrics.Metrics
}

func NewAnalysisService(repo txdomain.Repository, engine domain.RuleEngine, publisher DecisionPublisher, opts Options, tracer trace.Tracer, m *metrics.Metrics) *AnalysisService {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = config.ConflictPolicyPublish
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 10 * time.Second
	}
	return &AnalysisService{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		opts:      opts,
		tracer:    tracer,
		metrics:   m,
	}
}

// HandleCheckRequest 是检查请求的处理入口，由 Kafka 消费适配器调用。
//
// 返回的错误：
//   - txdomain.ErrNotFound：交易尚不存在，可以稍后重试
//   - txdomain.ErrVersionConflict：suppress/retry 策略下的版本冲突，不应重试
//   - 其他错误：存储或消息系统的暂时性故障
func (s *AnalysisService) HandleCheckRequest(ctx context.Context, evt *txdomain.CheckRequestEvent) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandleCheckRequest",
		trace.WithAttributes(attribute.String("transaction.id", evt.TransactionID)))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	// 每条消息独立的超时，覆盖存储和发布两个阶段
	processingCtx, cancel := context.WithTimeout(ctx, s.opts.ProcessingTimeout)
	defer cancel()

	outcome, err := s.process(processingCtx, evt.TransactionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check request failed")
		return outcome, err
	}
	span.SetAttributes(
		attribute.String("decision.status", string(outcome.Decision.NewStatus)),
		attribute.Int64("decision.version", outcome.Decision.Version),
		attribute.Bool("decision.applied", outcome.Applied),
		attribute.Bool("decision.published", outcome.Published),
	)
	return outcome, nil
}

func (s *AnalysisService) process(ctx context.Context, externalID string) (*Outcome, error) {
	log := logger.Ctx(ctx).With().Str("transaction_id", externalID).Logger()

	for attempt := 0; ; attempt++ {
		// 1. 读取快照
		tx, err := s.repo.Get(ctx, externalID)
		if err != nil {
			if errors.Is(err, txdomain.ErrNotFound) {
				log.Warn().Msg("Transaction not found, skipping analysis")
			}
			return nil, err
		}

		if tx.Status.IsTerminal() {
			if attempt > 0 {
				// 重新读取时已是终态：另一个写入者赢得了竞争，它会发布自己的结果
				log.Info().Str("status", string(tx.Status)).Int64("version", tx.Version).
					Msg("Transaction settled by a concurrent writer, nothing to publish")
				return &Outcome{}, nil
			}
			return s.replay(ctx, tx)
		}

		// 2. 决策
		status := s.engine.Decide(tx, s.opts.MaxAmount)
		s.metrics.DecisionsTotal.WithLabelValues(string(status)).Inc()
		decision := txdomain.DecisionResultEvent{
			TransactionID: tx.ExternalID,
			Version:       tx.Version,
			NewStatus:     status,
		}

		// 3. 条件更新
		res, err := s.repo.ConditionalUpdate(ctx, tx.ExternalID, tx.Version, status)
		if err != nil {
			return nil, err
		}
		outcome := &Outcome{Decision: decision, Applied: res.Applied}

		if res.Applied {
			s.metrics.CASTotal.WithLabelValues(metrics.CASApplied).Inc()
			log.Info().Str("status", string(status)).Int64("version", tx.Version).Msg("✅ Decision applied")
			return s.publish(ctx, outcome)
		}

		s.metrics.CASTotal.WithLabelValues(metrics.CASConflict).Inc()
		log.Warn().Str("status", string(status)).Int64("version", tx.Version).Int("attempt", attempt).
			Msg("Version conflict, transaction was updated by another writer")

		// 4. 冲突策略
		switch s.opts.ConflictPolicy {
		case config.ConflictPolicySuppress:
			return outcome, errors.Wrapf(txdomain.ErrVersionConflict, "%s@%d", tx.ExternalID, tx.Version)
		case config.ConflictPolicyRetry:
			if attempt < s.opts.ConflictRetries {
				continue
			}
			return outcome, errors.Wrapf(txdomain.ErrVersionConflict, "%s@%d after %d retries", tx.ExternalID, tx.Version, attempt)
		default:
			return s.publish(ctx, outcome)
		}
	}
}

// replay 重新发布已落库的决策。检查请求被重复投递，或者上一次处理在发布之前失败时会走到这里。
// 版本号还原为决策所依据的快照版本，与第一次发布的消息保持一致。
func (s *AnalysisService) replay(ctx context.Context, tx *txdomain.Transaction) (*Outcome, error) {
	version := tx.Version - 1
	if version < 0 {
		version = 0
	}
	outcome := &Outcome{
		Decision: txdomain.DecisionResultEvent{
			TransactionID: tx.ExternalID,
			Version:       version,
			NewStatus:     tx.Status,
		},
		Applied:  true,
		Replayed: true,
	}
	logger.Ctx(ctx).Info().
		Str("transaction_id", tx.ExternalID).
		Str("status", string(tx.Status)).
		Int64("version", tx.Version).
		Msg("Transaction already decided, re-publishing stored decision")
	return s.publish(ctx, outcome)
}

func (s *AnalysisService) publish(ctx context.Context, outcome *Outcome) (*Outcome, error) {
	if err := s.publisher.PublishDecision(ctx, outcome.Decision, outcome.Applied); err != nil {
		return outcome, errors.Wrap(err, "publish decision")
	}
	outcome.Published = true
	return outcome, nil
}
