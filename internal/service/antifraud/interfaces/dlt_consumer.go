// internal/service/antifraud/interfaces/dlt_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/mq"
)

// HandleDeadLetter 监听死信主题并记录日志，总是返回 nil：记录完成即视为处理完毕。
func HandleDeadLetter(ctx context.Context, msg kafka.Message) error {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	// 使用结构化日志记录，便于后续分析
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("exception_fqcn", headers[mq.HeaderExceptionFqcn]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("retry_attempt", headers[mq.HeaderRetryAttempt]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
	return nil
}
