package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"fraudguard/internal/pkg/metrics"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newChanReader() *chanReader {
	return &chanReader{msgs: make(chan kafka.Message, 16)}
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *chanReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *chanReader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestKafkaHeaderCarrier_RoundTripsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	InjectTraceContext(ctx, &headers)
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}

func TestProduceMessage_AddsEventIDAndHeaders(t *testing.T) {
	w := &recordingWriter{}

	err := ProduceMessage(context.Background(), w, []byte("T1"), []byte(`{}`), kafka.Header{Key: "x-custom", Value: []byte("1")})
	require.NoError(t, err)

	msgs := w.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("T1"), msgs[0].Key)
	assert.NotEmpty(t, HeaderValue(msgs[0].Headers, HeaderEventID))
	assert.Equal(t, "1", HeaderValue(msgs[0].Headers, "x-custom"))
}

func TestProduceMessage_WriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}

	err := ProduceMessage(context.Background(), w, []byte("T1"), []byte(`{}`))
	assert.ErrorContains(t, err, "leader not available")
}

func TestRetryAttempt(t *testing.T) {
	assert.Equal(t, 0, RetryAttempt(nil))
	assert.Equal(t, 0, RetryAttempt([]kafka.Header{{Key: HeaderRetryAttempt, Value: []byte("abc")}}))
	assert.Equal(t, 2, RetryAttempt([]kafka.Header{{Key: HeaderRetryAttempt, Value: []byte("2")}}))
}

func newFailureHandler(maxAttempts int) (*FailureHandler, *recordingWriter, *recordingWriter, *metrics.Metrics) {
	retry, dlt := &recordingWriter{}, &recordingWriter{}
	m := metrics.New(prometheus.NewRegistry())
	return NewFailureHandler(retry, dlt, maxAttempts, m), retry, dlt, m
}

func TestFailureHandler_RetriesTransientErrors(t *testing.T) {
	h, retry, dlt, m := newFailureHandler(3)
	msg := kafka.Message{Topic: "antifraud-check", Key: []byte("T1"), Value: []byte(`{"transactionId":"T1"}`)}

	h.Handle(context.Background(), msg, errors.New("transaction not found"))

	require.Len(t, retry.Messages(), 1)
	assert.Empty(t, dlt.Messages())
	forwarded := retry.Messages()[0]
	assert.Equal(t, "1", HeaderValue(forwarded.Headers, HeaderRetryAttempt))
	assert.Equal(t, "antifraud-check", HeaderValue(forwarded.Headers, HeaderOriginalTopic))
	assert.Equal(t, msg.Value, forwarded.Value)
	assert.Empty(t, forwarded.Topic)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("antifraud-check", metrics.OutcomeRetried)))
}

func TestFailureHandler_DeadLettersAfterMaxAttempts(t *testing.T) {
	h, retry, dlt, _ := newFailureHandler(3)
	msg := kafka.Message{
		Topic:     "antifraud-check-retry",
		Partition: 2,
		Offset:    41,
		Headers: []kafka.Header{
			{Key: HeaderRetryAttempt, Value: []byte("3")},
			{Key: HeaderOriginalTopic, Value: []byte("antifraud-check")},
		},
	}

	h.Handle(context.Background(), msg, errors.New("transaction not found"))

	assert.Empty(t, retry.Messages())
	require.Len(t, dlt.Messages(), 1)
	headers := dlt.Messages()[0].Headers
	assert.Equal(t, "antifraud-check", HeaderValue(headers, HeaderOriginalTopic))
	assert.Equal(t, "2", HeaderValue(headers, HeaderOriginalPartition))
	assert.Equal(t, "41", HeaderValue(headers, HeaderOriginalOffset))
	assert.Equal(t, "transaction not found", HeaderValue(headers, HeaderExceptionMessage))
}

func TestFailureHandler_PermanentErrorsSkipRetry(t *testing.T) {
	h, retry, dlt, m := newFailureHandler(3)
	msg := kafka.Message{Topic: "antifraud-check", Value: []byte("not json")}

	h.Handle(context.Background(), msg, Permanent(errors.New("malformed payload")))

	assert.Empty(t, retry.Messages())
	require.Len(t, dlt.Messages(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("antifraud-check", metrics.OutcomeDeadLettered)))
}

func TestFailureHandler_ZeroAttemptsGoesStraightToDLT(t *testing.T) {
	h, retry, dlt, _ := newFailureHandler(0)

	h.Handle(context.Background(), kafka.Message{Topic: "antifraud-check"}, errors.New("boom"))

	assert.Empty(t, retry.Messages())
	assert.Len(t, dlt.Messages(), 1)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad json")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

func TestConsumer_ProcessesCommitsAndRoutesFailures(t *testing.T) {
	reader := newChanReader()
	h, retry, _, _ := newFailureHandler(1)

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		handled = append(handled, string(msg.Key))
		mu.Unlock()
		if string(msg.Key) == "bad" {
			return errors.New("transient")
		}
		return nil
	}

	c := NewConsumer(ConsumerConfig{Topic: "antifraud-check", GroupID: "antifraud"}, handler,
		WithFailureHandler(h),
		WithReaderFactory(func() MessageReader { return reader }),
		WithBrokerCheck(func(context.Context) error { return nil }),
	)
	require.NoError(t, c.Start(context.Background()))

	reader.msgs <- kafka.Message{Topic: "antifraud-check", Key: []byte("T1")}
	reader.msgs <- kafka.Message{Topic: "antifraud-check", Key: []byte("bad")}

	require.Eventually(t, func() bool { return reader.Committed() == 2 }, 2*time.Second, 10*time.Millisecond)
	c.Stop(context.Background())

	mu.Lock()
	assert.Equal(t, []string{"T1", "bad"}, handled)
	mu.Unlock()
	assert.Len(t, retry.Messages(), 1)
	assert.True(t, reader.closed)
}

func TestConsumer_StartFailsWhenBrokerUnavailable(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Topic: "antifraud-check"}, func(context.Context, kafka.Message) error { return nil },
		WithBrokerCheck(func(context.Context) error { return ErrBrokerUnavailable }),
	)

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	c.Stop(context.Background())
}

func TestConsumer_DelayHoldsMessageUntilDue(t *testing.T) {
	reader := newChanReader()
	processed := make(chan time.Time, 1)

	c := NewConsumer(ConsumerConfig{Topic: "antifraud-check-retry", Delay: 150 * time.Millisecond},
		func(context.Context, kafka.Message) error {
			processed <- time.Now()
			return nil
		},
		WithReaderFactory(func() MessageReader { return reader }),
		WithBrokerCheck(func(context.Context) error { return nil }),
	)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	written := time.Now()
	reader.msgs <- kafka.Message{Topic: "antifraud-check-retry", Time: written}

	select {
	case at := <-processed:
		assert.GreaterOrEqual(t, at.Sub(written), 140*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("message was never processed")
	}
}

func TestCheckBrokers_NoBrokers(t *testing.T) {
	err := CheckBrokers(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}
