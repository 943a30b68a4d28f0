// internal/service/antifraud/infrastructure/decision_producer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/mq"
	txdomain "fraudguard/internal/service/transaction/domain"
)

// DecisionProducer 实现 application.DecisionPublisher，把决策结果写入出站主题。
type DecisionProducer struct {
	writer mq.MessageWriter
	topic  string
	tracer trace.Tracer
}

func NewDecisionProducer(writer mq.MessageWriter, topic string, tracer trace.Tracer) *DecisionProducer {
	return &DecisionProducer{writer: writer, topic: topic, tracer: tracer}
}

func (p *DecisionProducer) PublishDecision(ctx context.Context, evt txdomain.DecisionResultEvent, applied bool) error {
	ctx, span := p.tracer.Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", p.topic),
			attribute.String("transaction.id", evt.TransactionID),
			attribute.Bool("decision.applied", applied),
		))
	defer span.End()

	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal decision result")
	}

	err = mq.ProduceMessage(ctx, p.writer, []byte(evt.TransactionID), payload,
		kafka.Header{Key: txdomain.HeaderCASApplied, Value: []byte(strconv.FormatBool(applied))})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to produce decision result")
		return errors.Wrapf(err, "produce decision for %s", evt.TransactionID)
	}

	logger.Ctx(ctx).Info().
		Str("transaction_id", evt.TransactionID).
		Int64("version", evt.Version).
		Str("status", string(evt.NewStatus)).
		Bool("applied", applied).
		Msg("📤 Decision result published")
	return nil
}
