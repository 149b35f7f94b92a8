package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
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

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Event tests ---

func TestNewEvent_Fields(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	event, err := NewEvent("inventory.reserved", "res-1", "reservation", "commerce-engine", at,
		map[string]int{"quantity": 3})
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "inventory.reserved", event.EventType)
	assert.Equal(t, "res-1", event.AggregateID)
	assert.Equal(t, "reservation", event.AggregateType)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
	assert.True(t, at.Equal(event.Timestamp))
	assert.JSONEq(t, `{"quantity":3}`, string(event.Data))
}

func TestNewEvent_UnserializableData(t *testing.T) {
	_, err := NewEvent("x", "a", "t", "s", time.Now(), make(chan int))
	require.Error(t, err)
}

func TestEvent_Chaining(t *testing.T) {
	event := &Event{}
	out := event.WithCorrelationID("corr-1").WithMetadata("actor", "ops")
	assert.Same(t, event, out)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "ops", event.Metadata["actor"])
}

func TestEvent_UnmarshalRoundTrip(t *testing.T) {
	event, err := NewEvent("order.created", "ord-1", "order", "svc", time.Now(), map[string]string{"number": "ORD-1"})
	require.NoError(t, err)

	raw, err := event.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, restored.EventID)

	var data map[string]string
	require.NoError(t, restored.UnmarshalData(&data))
	assert.Equal(t, "ORD-1", data["number"])
}

func TestUnmarshalEvent_InvalidJSON(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{broken`))
	require.Error(t, err)
}

// --- Producer tests ---

func TestProducer_Publish_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, newTestLogger())

	event, err := NewEvent("order.paid", "ord-9", "order", "svc", time.Now(), nil)
	require.NoError(t, err)
	event.WithCorrelationID("corr-9")

	require.NoError(t, p.Publish(context.Background(), "commerce.orders", event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "commerce.orders", msg.Topic)
	assert.Equal(t, []byte("ord-9"), msg.Key)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "order.paid", headers["event_type"])
	assert.Equal(t, "corr-9", headers["correlation_id"])
}

func TestProducer_Publish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, nil, newTestLogger())

	event, err := NewEvent("order.paid", "ord-9", "order", "svc", time.Now(), nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "commerce.orders", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commerce.orders")
}

func TestProducer_PingWithoutBrokers(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{}, nil, newTestLogger())
	assert.Error(t, p.Ping(context.Background()))
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil, newTestLogger())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"})
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.False(t, cfg.Async)
}
