// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fraudguard/internal/pkg/logger"
)

// HandlerFunc 处理单条消息。返回的错误交给 FailureHandler，消息本身总会被提交。
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// ConsumerConfig 描述一个主题订阅。
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int           // 同一消费者组内的 reader 数量，按分区并行
	Delay       time.Duration // 大于 0 时，消息在写入时间 + Delay 之后才处理（重试主题使用）
	DialTimeout time.Duration
}

// Option 定制 Consumer。
type Option func(*Consumer)

// WithFailureHandler 设置失败消息的去向。
func WithFailureHandler(h *FailureHandler) Option {
	return func(c *Consumer) { c.failureHandler = h }
}

// WithReaderFactory 替换 reader 的创建方式，测试时注入内存 reader。
func WithReaderFactory(f func() MessageReader) Option {
	return func(c *Consumer) { c.newReader = f }
}

// WithBrokerCheck 替换启动时的 broker 连通性检查。
func WithBrokerCheck(f func(ctx context.Context) error) Option {
	return func(c *Consumer) { c.checkBrokers = f }
}

// Consumer 是一个长期运行的驱动适配器：订阅一个主题，为每条消息调用 handler。
type Consumer struct {
	cfg            ConsumerConfig
	handler        HandlerFunc
	failureHandler *FailureHandler
	newReader      func() MessageReader
	checkBrokers   func(ctx context.Context) error
	tracer         trace.Tracer

	mu      sync.Mutex
	readers []MessageReader
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewConsumer 创建消费者，Start 之前不会建立任何连接。
func NewConsumer(cfg ConsumerConfig, handler HandlerFunc, opts ...Option) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	c := &Consumer{
		cfg:     cfg,
		handler: handler,
		tracer:  otel.Tracer("fraudguard/mq"),
	}
	c.newReader = func() MessageReader {
		return NewKafkaReader(c.cfg.Brokers, c.cfg.Topic, c.cfg.GroupID)
	}
	c.checkBrokers = func(ctx context.Context) error {
		return CheckBrokers(ctx, c.cfg.Brokers, c.cfg.DialTimeout)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start 检查 broker 连通性后启动 reader。broker 不可用时返回 ErrBrokerUnavailable。
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.checkBrokers(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.group, runCtx = errgroup.WithContext(runCtx)

	for i := 0; i < c.cfg.Concurrency; i++ {
		reader := c.newReader()
		c.readers = append(c.readers, reader)
		c.group.Go(func() error {
			return c.run(runCtx, reader)
		})
	}

	logger.Ctx(ctx).Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Int("readers", c.cfg.Concurrency).
		Msg("✅ Kafka consumer started.")
	return nil
}

// Stop 取消拉取循环、关闭 reader 并等待各个 goroutine 退出。
// 正在处理的消息会随上下文一起被取消且不会提交 offset，重启后由 Kafka 重新投递。
func (c *Consumer) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}

	c.cancel()
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", c.cfg.Topic).Msg("Failed to close kafka reader")
		}
	}
	if err := c.group.Wait(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", c.cfg.Topic).Msg("Kafka consumer exited with error")
	}
	c.cancel = nil
	c.readers = nil
	logger.Ctx(ctx).Info().Str("topic", c.cfg.Topic).Msg("🛑 Kafka consumer stopped.")
}

func (c *Consumer) run(ctx context.Context, reader MessageReader) error {
	for {
		// 使用 FetchMessage 而不是 ReadMessage，处理完成后再显式提交 offset
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Str("topic", c.cfg.Topic).Msg("Could not read message, retrying")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if c.cfg.Delay > 0 && !sleep(ctx, time.Until(msg.Time.Add(c.cfg.Delay))) {
			// 关停时未处理的消息不提交，重启后会重新投递
			return nil
		}

		c.process(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", c.cfg.Topic).Msg("Failed to commit messages")
		}
	}
}

func (c *Consumer) process(parent context.Context, msg kafka.Message) {
	ctx := ExtractTraceContext(parent, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		))
	defer span.End()

	err := c.handler(ctx, msg)
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "message handling failed")
	if c.failureHandler != nil {
		c.failureHandler.Handle(ctx, msg, err)
		return
	}
	logger.Ctx(ctx).Error().Err(err).
		Str("topic", msg.Topic).
		Int64("offset", msg.Offset).
		Msg("Message handling failed, message skipped")
}

// sleep 在 ctx 取消时提前返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
