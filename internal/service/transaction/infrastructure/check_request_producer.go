// internal/service/transaction/infrastructure/check_request_producer.go
package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/service/transaction/domain"
)

// CheckRequestProducer 把风控检查请求发送到 antifraud 的入站主题。
type CheckRequestProducer struct {
	writer mq.MessageWriter
	topic  string
	tracer trace.Tracer
}

func NewCheckRequestProducer(writer mq.MessageWriter, topic string) *CheckRequestProducer {
	return &CheckRequestProducer{
		writer: writer,
		topic:  topic,
		tracer: otel.Tracer("fraudguard/transaction"),
	}
}

// RequestCheck 以 externalId 为 key 发送，同一笔交易的请求落在同一分区。
func (p *CheckRequestProducer) RequestCheck(ctx context.Context, externalID string) error {
	ctx, span := p.tracer.Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", p.topic),
			attribute.String("transaction.id", externalID),
		))
	defer span.End()

	payload, err := json.Marshal(domain.CheckRequestEvent{TransactionID: externalID})
	if err != nil {
		return errors.Wrap(err, "marshal check request")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(externalID), payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to produce check request")
		return errors.Wrapf(err, "produce check request for %s", externalID)
	}

	logger.Ctx(ctx).Info().Str("transaction_id", externalID).Str("topic", p.topic).Msg("📤 Check request published")
	return nil
}
