package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func newTestProducer(w messageWriter) *Producer {
	return &Producer{w: w, topic: "notifications", log: zap.NewNop()}
}

func TestPublishNotificationPublished(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	w := &captureWriter{}
	events := NewNotificationEventsKafka(newTestProducer(w))

	ctx, span := otel.Tracer("test").Start(context.Background(), "root")
	ev := outbox.NotificationPublished{NotificationID: 42, Type: "EXAM", Title: "t", RuleCount: 2, PublishedAt: time.Unix(0, 0).UTC()}
	require.NoError(t, events.PublishNotificationPublished(ctx, ev))
	span.End()

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))

	var got outbox.NotificationPublished
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev, got)

	hc := HeadersCarrier(msg.Headers)
	assert.Equal(t, EventNotificationPublished, hc.Get(headerEventType))
	assert.NotEmpty(t, hc.Get("traceparent"))

	extracted := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), hc))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
}

func TestPublishJSON_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := newTestProducer(&captureWriter{err: boom})

	err := p.PublishJSON(context.Background(), "x", nil, map[string]int{"a": 1})
	assert.ErrorIs(t, err, boom)
}

func TestPublishJSON_MarshalError(t *testing.T) {
	w := &captureWriter{}
	err := newTestProducer(w).PublishJSON(context.Background(), "x", nil, make(chan int))
	assert.Error(t, err)
	assert.Empty(t, w.msgs)
}
