package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"product-order-api/internal/domain/model"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaOrderPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaOrderPublisher(w)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.Publish(context.Background(), model.OrderEvent{
		Type:           model.OrderEventStatusChanged,
		OrderID:        42,
		Status:         model.OrderStatusProcessing,
		PreviousStatus: model.OrderStatusPending,
		TotalAmount:    decimal.RequireFromString("21.00"),
		OccurredAt:     at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "order-42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "order.status_changed", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "order.status_changed", body["type"])
	assert.EqualValues(t, 42, body["order_id"])
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "pending", body["previous_status"])
	assert.EqualValues(t, 21, body["total_amount"])
}

func TestKafkaOrderPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaOrderPublisher(w)

	err := p.Publish(context.Background(), model.OrderEvent{Type: model.OrderEventCreated, OrderID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), model.OrderEvent{}))
}

func TestNewKafkaWriter_ShortBatchWait(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "orders")

	assert.Equal(t, "orders", w.Topic)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
	assert.False(t, w.Async)
	require.NoError(t, w.Close())
}
