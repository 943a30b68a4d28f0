package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/transaction/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestCheckRequestProducer_RequestCheck(t *testing.T) {
	w := &recordingWriter{}
	p := NewCheckRequestProducer(w, "antifraud-check")

	require.NoError(t, p.RequestCheck(context.Background(), "T1"))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "T1", string(msg.Key))
	assert.NotEmpty(t, mq.HeaderValue(msg.Headers, mq.HeaderEventID))

	evt, err := domain.DecodeCheckRequest(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "T1", evt.TransactionID)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &raw))
	assert.Equal(t, map[string]any{"transactionId": "T1"}, raw)
}

func TestCheckRequestProducer_WriteError(t *testing.T) {
	w := &recordingWriter{err: assert.AnError}
	p := NewCheckRequestProducer(w, "antifraud-check")

	err := p.RequestCheck(context.Background(), "T1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRedisDeduplicator(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	d := NewRedisDeduplicator(client, time.Hour)
	ctx := context.Background()

	first, err := d.MarkProcessed(ctx, "T1", 0)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.MarkProcessed(ctx, "T1", 0)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.MarkProcessed(ctx, "T1", 1)
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, d.Forget(ctx, "T1", 1))
	other, err = d.MarkProcessed(ctx, "T1", 1)
	require.NoError(t, err)
	assert.True(t, other)

	mr.FastForward(2 * time.Hour)
	expired, err := d.MarkProcessed(ctx, "T1", 0)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestMemoryDeduplicator(t *testing.T) {
	d := NewMemoryDeduplicator()
	ctx := context.Background()

	first, _ := d.MarkProcessed(ctx, "T1", 0)
	second, _ := d.MarkProcessed(ctx, "T1", 0)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, d.Forget(ctx, "T1", 0))
	third, _ := d.MarkProcessed(ctx, "T1", 0)
	assert.True(t, third)
}
