package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yeremiapane/qr-table-ordering/models"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type recordingPublisher struct {
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return p.err
}

func TestProducer_PublishInjectsTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	w := &fakeWriter{}
	p := &Producer{writer: w, topic: TopicOrderEvents}

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	err := p.Publish(ctx, "order-1", map[string]string{"hello": "world"})
	span.End()
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	assert.JSONEq(t, `{"hello":"world"}`, string(msg.Value))
	assert.NotEmpty(t, NewMessageCarrier(&msg).Get("traceparent"))
}

func TestProducer_PublishWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &Producer{writer: w, topic: TopicOrderEvents}

	err := p.Publish(context.Background(), "k", "v")
	assert.EqualError(t, err, "broker down")
}

func TestMessageCarrier_SetOverwrites(t *testing.T) {
	msg := kafka.Message{}
	c := NewMessageCarrier(&msg)
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}

func TestFlowPublisher_PublishesTerminalEventsOnly(t *testing.T) {
	pub := &recordingPublisher{}
	fp := NewFlowPublisher(pub, logrus.New())
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	for _, typ := range []models.FlowEventType{
		models.FlowEventSubmitted,
		models.FlowEventTick,
		models.FlowEventModified,
		models.FlowEventCommitted,
		models.FlowEventCancelled,
	} {
		fp.OnFlowEvent(ctx, models.FlowEvent{Type: typ, OrderID: "o-" + string(typ), RestaurantID: "R", TableNumber: 5, At: at})
	}

	require.Len(t, pub.events, 2)
	assert.Equal(t, []string{"o-committed", "o-cancelled"}, pub.keys)

	raw, err := json.Marshal(pub.events[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"order.committed","orderId":"o-committed","restaurantId":"R","tableNumber":5,"occurredAt":"2026-03-01T19:00:00Z"}`, string(raw))
}

func TestFlowPublisher_LogsPublishFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	fp := NewFlowPublisher(&recordingPublisher{err: errors.New("nope")}, logger)

	fp.OnFlowEvent(context.Background(), models.FlowEvent{Type: models.FlowEventCommitted, OrderID: "o-1"})

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "o-1", hook.LastEntry().Data["order_id"])
}
