// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不值得重试的错误（例如消息体无法解析），FailureHandler 会直接投递死信。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误链上是否带有 Permanent 标记。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// FailureHandler 处理消费失败的消息：有限次数地转投重试主题，超过次数或不可重试时投递死信主题。
type FailureHandler struct {
	retryWriter MessageWriter
	dltWriter   MessageWriter
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewFailureHandler 创建失败处理器。retryWriter 为 nil 时所有失败都直接进入死信。
func NewFailureHandler(retryWriter, dltWriter MessageWriter, maxAttempts int, m *metrics.Metrics) *FailureHandler {
	return &FailureHandler{
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Handle 根据错误类型和已重试次数决定消息去向。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	attempt := RetryAttempt(msg.Headers)
	log := logger.Ctx(ctx).With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Int("attempt", attempt).
		Logger()

	if !IsPermanent(cause) && h.retryWriter != nil && attempt < h.maxAttempts {
		if err := h.forward(ctx, h.retryWriter, retryMessage(msg, attempt+1)); err != nil {
			log.Error().Err(err).Msg("Failed to publish message to retry topic, sending to DLT instead")
		} else {
			log.Warn().Err(cause).Msg("Message scheduled for retry")
			h.count(msg.Topic, metrics.OutcomeRetried)
			return
		}
	}

	if h.dltWriter == nil {
		log.Error().Err(cause).Msg("Message dropped, no dead letter topic configured")
		h.count(msg.Topic, metrics.OutcomeDropped)
		return
	}
	if err := h.forward(ctx, h.dltWriter, deadLetterMessage(msg, cause)); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("🚨 Failed to publish message to DLT, message dropped")
		h.count(msg.Topic, metrics.OutcomeDropped)
		return
	}
	log.Error().Err(cause).Msg("Message moved to dead letter topic")
	h.count(msg.Topic, metrics.OutcomeDeadLettered)
}

func (h *FailureHandler) forward(ctx context.Context, w MessageWriter, msg kafka.Message) error {
	InjectTraceContext(ctx, &msg.Headers)
	return w.WriteMessages(ctx, msg)
}

func (h *FailureHandler) count(topic, outcome string) {
	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues(topic, outcome).Inc()
	}
}

// retryMessage 保留 key、value 和原始头，只更新重试次数。
func retryMessage(msg kafka.Message, attempt int) kafka.Message {
	headers := cloneHeaders(msg.Headers)
	headers = SetHeader(headers, HeaderRetryAttempt, strconv.Itoa(attempt))
	if HeaderValue(headers, HeaderOriginalTopic) == "" {
		headers = SetHeader(headers, HeaderOriginalTopic, msg.Topic)
	}
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

func deadLetterMessage(msg kafka.Message, cause error) kafka.Message {
	headers := cloneHeaders(msg.Headers)
	if HeaderValue(headers, HeaderOriginalTopic) == "" {
		headers = SetHeader(headers, HeaderOriginalTopic, msg.Topic)
	}
	headers = SetHeader(headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers = SetHeader(headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers = SetHeader(headers, HeaderExceptionFqcn, fmt.Sprintf("%T", rootCause(cause)))
	headers = SetHeader(headers, HeaderExceptionMessage, cause.Error())
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

func cloneHeaders(headers []kafka.Header) []kafka.Header {
	out := make([]kafka.Header, len(headers))
	copy(out, headers)
	return out
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
