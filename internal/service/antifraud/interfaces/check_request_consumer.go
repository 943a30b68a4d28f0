// internal/service/antifraud/interfaces/check_request_consumer.go
package interfaces

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/service/antifraud/application"
	txdomain "fraudguard/internal/service/transaction/domain"
)

// CheckRequestConsumer 是检查请求主题（以及它的重试主题）的驱动适配器：
// 把 Kafka 消息翻译成应用层调用，再把应用层错误翻译成消息的去向。
type CheckRequestConsumer struct {
	service *application.AnalysisService
	metrics *metrics.Metrics
}

func NewCheckRequestConsumer(service *application.AnalysisService, m *metrics.Metrics) *CheckRequestConsumer {
	return &CheckRequestConsumer{service: service, metrics: m}
}

// Handle 满足 mq.HandlerFunc。
//   - 消息体无法解析：标记为 Permanent，直接进入死信
//   - 版本冲突：记录后丢弃，重试不会改变结果
//   - 其他错误：交给 FailureHandler 走重试主题
func (c *CheckRequestConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	log := logger.Ctx(ctx).With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	evt, err := txdomain.DecodeCheckRequest(msg.Value)
	if err != nil {
		log.Error().Err(err).Str("value", string(msg.Value)).Msg("Failed to decode check request")
		return mq.Permanent(err)
	}
	log = log.With().Str("transaction_id", evt.TransactionID).Logger()

	outcome, err := c.service.HandleCheckRequest(ctx, evt)
	switch {
	case err == nil:
		c.count(msg.Topic, metrics.OutcomeProcessed)
		log.Info().
			Str("status", string(outcome.Decision.NewStatus)).
			Bool("applied", outcome.Applied).
			Bool("published", outcome.Published).
			Msg("Check request processed")
		return nil
	case errors.Is(err, txdomain.ErrVersionConflict):
		c.count(msg.Topic, metrics.OutcomeDropped)
		log.Warn().Err(err).Msg("Decision discarded after version conflict")
		return nil
	default:
		c.count(msg.Topic, metrics.OutcomeFailed)
		return err
	}
}

func (c *CheckRequestConsumer) count(topic, outcome string) {
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(topic, outcome).Inc()
	}
}
