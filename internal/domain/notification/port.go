package notification

import (
	"context"
	"time"

	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

type Repo interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id int64) (*Notification, error)
	Update(ctx context.Context, id int64, patch HeaderPatch) (*Notification, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f AdminFilter) ([]*Notification, int, error)
}

// RuleStore persists audience rules. Save replaces the whole set and must run
// inside the caller's transaction.
type RuleStore interface {
	Save(ctx context.Context, notificationID int64, rules []Rule) ([]Rule, error)
	ListFor(ctx context.Context, notificationID int64) ([]Rule, error)
}

type RecipientRepo interface {
	Get(ctx context.Context, notificationID, userID int64) (*Recipient, error)
	Insert(ctx context.Context, r *Recipient) error
	// Update writes r only while the stored row still matches prev's status and
	// pin flag. A row changed in between yields ErrConflict.
	Update(ctx context.Context, prev, r *Recipient) error
	MarkAllRead(ctx context.Context, u user.CurrentUser, at time.Time) (int, error)
}

// Feed answers set-oriented questions about what a user can see.
type Feed interface {
	ListVisible(ctx context.Context, u user.CurrentUser, f FeedFilter) ([]FeedItem, int, error)
	CountUnread(ctx context.Context, u user.CurrentUser) (int, error)
}
