package kafka

import (
	"context"

	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
)

// NotificationEvents publishes notification lifecycle events to the broker.
type NotificationEvents interface {
	PublishNotificationPublished(ctx context.Context, ev outbox.NotificationPublished) error
}
