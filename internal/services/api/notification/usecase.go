package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
	"github.com/NordCoder/Noticeboard/internal/obs"
)

type Transactor interface {
	WithTx(ctx context.Context, function func(ctx context.Context) error) error
}

type EventOutbox interface {
	Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error
}

// Usecase holds the administrator-facing writes and reads. Every write that
// touches rules runs in one transaction together with the header.
type Usecase struct {
	log    *zap.Logger
	tx     Transactor
	repo   notification.Repo
	rules  notification.RuleStore
	events EventOutbox
	clk    func() time.Time
}

type Deps struct {
	Logger *zap.Logger
	Tx     Transactor
	Repo   notification.Repo
	Rules  notification.RuleStore
	// Events is optional; nil disables NotificationPublished messages.
	Events EventOutbox
	Clock  func() time.Time
}

func NewUsecase(d Deps) *Usecase {
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Usecase{log: d.Logger, tx: d.Tx, repo: d.Repo, rules: d.Rules, events: d.Events, clk: d.Clock}
}

var tracer = otel.Tracer("notification.usecase")

func (u *Usecase) Create(ctx context.Context, actor user.CurrentUser, in notification.CreateInput) (*notification.Notification, error) {
	ctx, span := tracer.Start(ctx, "notification.create",
		trace.WithAttributes(attribute.Int("rules.count", len(in.Rules))))
	defer span.End()

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	createdBy := actor.ID
	n := &notification.Notification{
		Title:       in.Title,
		Content:     in.Content,
		Type:        in.Type,
		Priority:    in.Priority,
		Status:      notification.StatusSent,
		SemesterID:  in.SemesterID,
		Attachments: in.Attachments,
		CreatedBy:   &createdBy,
	}

	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.repo.Create(ctx, n); err != nil {
			return fmt.Errorf("insert header: %w", err)
		}
		saved, err := u.rules.Save(ctx, n.ID, in.Rules)
		if err != nil {
			return fmt.Errorf("insert rules: %w", err)
		}
		n.Rules = saved
		return u.publish(ctx, n)
	})
	if err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, u.log).Error("create notification", zap.Int64("actor", actor.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: create notification: %w", notification.ErrStorage, err)
	}

	obs.WithTrace(ctx, u.log).Info("notification created",
		zap.Int64("id", n.ID), zap.Int64("actor", actor.ID), zap.Int("rules", len(n.Rules)))
	return n, nil
}

func (u *Usecase) publish(ctx context.Context, n *notification.Notification) error {
	if u.events == nil {
		return nil
	}
	data, err := json.Marshal(outbox.NotificationPublished{
		NotificationID: n.ID,
		Type:           string(n.Type),
		Priority:       string(n.Priority),
		Title:          n.Title,
		RuleCount:      len(n.Rules),
		CreatedBy:      n.CreatedBy,
		PublishedAt:    u.clk(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := u.events.Enqueue(ctx, uuid.NewString(), outbox.KindNotificationPublished, data); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

func (u *Usecase) Update(ctx context.Context, actor user.CurrentUser, id int64, in notification.UpdateInput) (*notification.Notification, error) {
	ctx, span := tracer.Start(ctx, "notification.update",
		trace.WithAttributes(attribute.Int64("notification.id", id), attribute.Bool("rules.replace", in.Rules != nil)))
	defer span.End()

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var n *notification.Notification
	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if in.Patch.Empty() {
			n, err = u.repo.GetByID(ctx, id)
		} else {
			n, err = u.repo.Update(ctx, id, in.Patch)
		}
		if err != nil {
			return err
		}
		if in.Rules != nil {
			if n.Rules, err = u.rules.Save(ctx, id, *in.Rules); err != nil {
				return fmt.Errorf("replace rules: %w", err)
			}
			return nil
		}
		n.Rules, err = u.rules.ListFor(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			return nil, notification.ErrNotFound
		}
		span.RecordError(err)
		obs.WithTrace(ctx, u.log).Error("update notification", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: update notification: %w", notification.ErrStorage, err)
	}

	obs.WithTrace(ctx, u.log).Info("notification updated",
		zap.Int64("id", id), zap.Int64("actor", actor.ID), zap.Bool("rules_replaced", in.Rules != nil))
	return n, nil
}

func (u *Usecase) Get(ctx context.Context, id int64) (*notification.Notification, error) {
	n, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if n.Rules, err = u.rules.ListFor(ctx, id); err != nil {
		return nil, mapErr(err)
	}
	return n, nil
}

func (u *Usecase) Delete(ctx context.Context, actor user.CurrentUser, id int64) error {
	if err := u.repo.Delete(ctx, id); err != nil {
		return mapErr(err)
	}
	obs.WithTrace(ctx, u.log).Info("notification deleted", zap.Int64("id", id), zap.Int64("actor", actor.ID))
	return nil
}

func (u *Usecase) List(ctx context.Context, f notification.AdminFilter) ([]*notification.Notification, int, error) {
	list, total, err := u.repo.List(ctx, f)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	return list, total, nil
}

// ListRules returns INCLUDE and EXCLUDE rules alike, ordered by id.
func (u *Usecase) ListRules(ctx context.Context, id int64) ([]notification.Rule, error) {
	if _, err := u.repo.GetByID(ctx, id); err != nil {
		return nil, mapErr(err)
	}
	rules, err := u.rules.ListFor(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return rules, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, notification.ErrNotFound):
		return notification.ErrNotFound
	case errors.Is(err, notification.ErrValidation):
		return err
	default:
		return fmt.Errorf("%w: %w", notification.ErrStorage, err)
	}
}
