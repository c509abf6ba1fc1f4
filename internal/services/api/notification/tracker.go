package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/audience"
	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
	"github.com/NordCoder/Noticeboard/internal/obs"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_recipient_transitions_total",
		Help: "Recipient state changes requested by users, by operation and outcome.",
	}, []string{"op", "outcome"})

	transitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_recipient_write_conflicts_total",
		Help: "Concurrent recipient writes resolved by re-reading the row.",
	}, []string{"op"})
)

type FeedConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// Tracker owns per-user delivery state. Recipient rows are created lazily on
// the first user action, never when a notification is sent.
type Tracker struct {
	log        *zap.Logger
	repo       notification.Repo
	rules      notification.RuleStore
	recipients notification.RecipientRepo
	feed       notification.Feed
	cfg        FeedConfig
	clk        func() time.Time
}

type TrackerDeps struct {
	Logger     *zap.Logger
	Repo       notification.Repo
	Rules      notification.RuleStore
	Recipients notification.RecipientRepo
	Feed       notification.Feed
	Config     FeedConfig
	Clock      func() time.Time
}

func NewTracker(d TrackerDeps) *Tracker {
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config.DefaultLimit <= 0 {
		d.Config.DefaultLimit = 20
	}
	if d.Config.MaxLimit < d.Config.DefaultLimit {
		d.Config.MaxLimit = d.Config.DefaultLimit
	}
	return &Tracker{
		log:        d.Logger,
		repo:       d.Repo,
		rules:      d.Rules,
		recipients: d.Recipients,
		feed:       d.Feed,
		cfg:        d.Config,
		clk:        d.Clock,
	}
}

// step computes the next recipient row from the current one. cur is nil when
// the user has never touched the notification. write=false means no-op.
type step func(n *notification.Notification, cur *notification.Recipient, now time.Time) (next *notification.Recipient, write bool)

const maxTransitionAttempts = 3

// MarkRead is idempotent: an existing non-UNREAD row is returned unchanged and
// read_at keeps the time of the first call.
func (t *Tracker) MarkRead(ctx context.Context, u user.CurrentUser, id int64) (*notification.Recipient, error) {
	return t.transition(ctx, "mark_read", u, id, func(n *notification.Notification, cur *notification.Recipient, now time.Time) (*notification.Recipient, bool) {
		if cur == nil {
			return &notification.Recipient{
				NotificationID: n.ID,
				UserID:         u.ID,
				ReceivedAt:     n.CreatedAt,
				Status:         notification.RecipientRead,
				ReadAt:         &now,
			}, true
		}
		if cur.Status != notification.RecipientUnread {
			return cur, false
		}
		next := *cur
		next.Status = notification.RecipientRead
		next.ReadAt = &now
		return &next, true
	})
}

func (t *Tracker) Dismiss(ctx context.Context, u user.CurrentUser, id int64) (*notification.Recipient, error) {
	return t.transition(ctx, "dismiss", u, id, moveTo(u, notification.RecipientDismissed))
}

func (t *Tracker) Archive(ctx context.Context, u user.CurrentUser, id int64) (*notification.Recipient, error) {
	return t.transition(ctx, "archive", u, id, moveTo(u, notification.RecipientArchivedByUser))
}

func moveTo(u user.CurrentUser, target notification.RecipientStatus) step {
	return func(n *notification.Notification, cur *notification.Recipient, now time.Time) (*notification.Recipient, bool) {
		var next notification.Recipient
		if cur == nil {
			next = notification.Recipient{NotificationID: n.ID, UserID: u.ID, ReceivedAt: n.CreatedAt}
		} else {
			if cur.Status == target {
				return cur, false
			}
			next = *cur
		}
		next.Status = target
		if target == notification.RecipientDismissed {
			next.DismissedAt = &now
		}
		return &next, true
	}
}

// SetPinned toggles the pin flag. Unpinning a notification the user never
// touched is a no-op and returns a nil recipient.
func (t *Tracker) SetPinned(ctx context.Context, u user.CurrentUser, id int64, pinned bool) (*notification.Recipient, error) {
	return t.transition(ctx, "pin", u, id, func(n *notification.Notification, cur *notification.Recipient, _ time.Time) (*notification.Recipient, bool) {
		if cur == nil {
			if !pinned {
				return nil, false
			}
			return &notification.Recipient{
				NotificationID: n.ID,
				UserID:         u.ID,
				ReceivedAt:     n.CreatedAt,
				Status:         notification.RecipientUnread,
				IsPinned:       true,
			}, true
		}
		if cur.IsPinned == pinned {
			return cur, false
		}
		next := *cur
		next.IsPinned = pinned
		return &next, true
	})
}

func (t *Tracker) transition(ctx context.Context, op string, u user.CurrentUser, id int64, apply step) (*notification.Recipient, error) {
	ctx, span := tracer.Start(ctx, "recipient."+op, trace.WithAttributes(
		attribute.Int64("notification.id", id),
		attribute.Int64("user.id", u.ID),
	))
	defer span.End()

	n, err := t.visibleNotification(ctx, u, id)
	if err != nil {
		transitionsTotal.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		cur, err := t.currentRecipient(ctx, id, u.ID)
		if err != nil {
			return nil, t.fail(ctx, op, err)
		}

		next, write := apply(n, cur, t.clk())
		if !write {
			transitionsTotal.WithLabelValues(op, "noop").Inc()
			return next, nil
		}

		if cur == nil {
			err = t.recipients.Insert(ctx, next)
		} else {
			err = t.recipients.Update(ctx, cur, next)
		}
		if err == nil {
			transitionsTotal.WithLabelValues(op, "applied").Inc()
			obs.WithTrace(ctx, t.log).Debug("recipient state changed",
				zap.String("op", op), zap.Int64("notification_id", id), zap.Int64("user_id", u.ID),
				zap.String("status", string(next.Status)))
			return next, nil
		}

		// another request inserted or changed the row since it was read
		if errors.Is(err, notification.ErrConflict) && attempt < maxTransitionAttempts {
			transitionConflicts.WithLabelValues(op).Inc()
			continue
		}
		return nil, t.fail(ctx, op, err)
	}
}

func (t *Tracker) fail(ctx context.Context, op string, err error) error {
	transitionsTotal.WithLabelValues(op, "error").Inc()
	trace.SpanFromContext(ctx).RecordError(err)
	obs.WithTrace(ctx, t.log).Error("recipient transition", zap.String("op", op), zap.Error(err))
	return mapErr(err)
}

func (t *Tracker) currentRecipient(ctx context.Context, id, userID int64) (*notification.Recipient, error) {
	cur, err := t.recipients.Get(ctx, id, userID)
	if errors.Is(err, notification.ErrNotFound) {
		return nil, nil
	}
	return cur, err
}

// visibleNotification hides notifications the user cannot see behind
// ErrNotFound so callers cannot discover which ids exist.
func (t *Tracker) visibleNotification(ctx context.Context, u user.CurrentUser, id int64) (*notification.Notification, error) {
	n, err := t.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if n.Status != notification.StatusSent {
		return nil, notification.ErrNotFound
	}
	if n.Rules, err = t.rules.ListFor(ctx, id); err != nil {
		return nil, mapErr(err)
	}
	if !audience.IsVisible(u, n) {
		return nil, notification.ErrNotFound
	}
	return n, nil
}

// MarkAllRead marks every visible unread notification as read and returns how
// many rows were written.
func (t *Tracker) MarkAllRead(ctx context.Context, u user.CurrentUser) (int, error) {
	ctx, span := tracer.Start(ctx, "recipient.mark_all_read", trace.WithAttributes(attribute.Int64("user.id", u.ID)))
	defer span.End()

	n, err := t.recipients.MarkAllRead(ctx, u, t.clk())
	if err != nil {
		return 0, t.fail(ctx, "mark_all_read", err)
	}
	transitionsTotal.WithLabelValues("mark_all_read", "applied").Add(float64(n))
	return n, nil
}

func (t *Tracker) UnreadCount(ctx context.Context, u user.CurrentUser) (int, error) {
	n, err := t.feed.CountUnread(ctx, u)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (t *Tracker) ListForUser(ctx context.Context, u user.CurrentUser, f notification.FeedFilter) ([]notification.FeedItem, int, error) {
	if err := validateFeedFilter(f); err != nil {
		return nil, 0, err
	}
	f.Page, f.Limit = t.window(f)

	items, total, err := t.feed.ListVisible(ctx, u, f)
	if err != nil {
		obs.WithTrace(ctx, t.log).Error("list feed", zap.Int64("user_id", u.ID), zap.Error(err))
		return nil, 0, mapErr(err)
	}
	return items, total, nil
}

// window clamps paging to the configured default and maximum page size.
func (t *Tracker) window(f notification.FeedFilter) (page, limit int) {
	page, limit = f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = t.cfg.DefaultLimit
	case limit > t.cfg.MaxLimit:
		limit = t.cfg.MaxLimit
	}
	return page, limit
}

// GetForUser returns one visible notification decorated with the caller's state.
func (t *Tracker) GetForUser(ctx context.Context, u user.CurrentUser, id int64) (*notification.FeedItem, error) {
	n, err := t.visibleNotification(ctx, u, id)
	if err != nil {
		return nil, err
	}
	rc, err := t.currentRecipient(ctx, id, u.ID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &notification.FeedItem{Notification: *n, Receipt: rc}, nil
}

func validateFeedFilter(f notification.FeedFilter) error {
	var fields []notification.FieldError
	if f.Type != "" && !f.Type.Valid() {
		fields = append(fields, notification.FieldError{Field: "type", Message: fmt.Sprintf("unknown type %q", f.Type)})
	}
	if f.Priority != "" && !f.Priority.Valid() {
		fields = append(fields, notification.FieldError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", f.Priority)})
	}
	if f.RecipientStatus != "" && !f.RecipientStatus.Valid() {
		fields = append(fields, notification.FieldError{Field: "recipientStatus", Message: fmt.Sprintf("unknown status %q", f.RecipientStatus)})
	}
	if len(fields) > 0 {
		return &notification.ValidationError{Fields: fields}
	}
	return nil
}
