package kafka

import (
	"context"

	"github.com/NordCoder/Noticeboard/internal/domain/kafka"
	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
)

const EventNotificationPublished = "notification.published"

type NotificationEventsKafka struct {
	p *Producer
}

func NewNotificationEventsKafka(p *Producer) *NotificationEventsKafka {
	return &NotificationEventsKafka{p: p}
}

var _ kafka.NotificationEvents = (*NotificationEventsKafka)(nil)

// PublishNotificationPublished keys by notification id so events for one
// notification stay ordered within a partition.
func (e *NotificationEventsKafka) PublishNotificationPublished(ctx context.Context, ev outbox.NotificationPublished) error {
	return e.p.PublishJSON(ctx, EventNotificationPublished, KeyFromInt64(ev.NotificationID), ev)
}
