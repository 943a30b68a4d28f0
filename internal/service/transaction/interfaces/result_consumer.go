// internal/service/transaction/interfaces/result_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/service/transaction/application"
	"fraudguard/internal/service/transaction/domain"
)

// DecisionResultConsumer 消费风控结果主题。
type DecisionResultConsumer struct {
	service *application.TransactionService
	metrics *metrics.Metrics
}

func NewDecisionResultConsumer(service *application.TransactionService, m *metrics.Metrics) *DecisionResultConsumer {
	return &DecisionResultConsumer{service: service, metrics: m}
}

// Handle 满足 mq.HandlerFunc。
func (c *DecisionResultConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	evt, err := domain.DecodeDecisionResult(msg.Value)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Str("value", string(msg.Value)).
			Msg("Failed to decode decision result")
		return mq.Permanent(err)
	}

	if _, err := c.service.HandleDecisionResult(ctx, evt, isStaleDecision(msg.Headers)); err != nil {
		c.count(msg.Topic, metrics.OutcomeFailed)
		return err
	}
	c.count(msg.Topic, metrics.OutcomeProcessed)
	return nil
}

func (c *DecisionResultConsumer) count(topic, outcome string) {
	if c.metrics != nil {
		c.metrics.MessagesTotal.WithLabelValues(topic, outcome).Inc()
	}
}

// isStaleDecision 读取 x-cas-applied 头，缺少该头的消息按已生效处理。
func isStaleDecision(headers []kafka.Header) bool {
	return mq.HeaderValue(headers, domain.HeaderCASApplied) == "false"
}
