package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

var _ notification.RecipientRepo = (*RecipientRepoImpl)(nil)

type RecipientRepoImpl struct{ db *DB }

func NewRecipientRepo(db *DB) *RecipientRepoImpl { return &RecipientRepoImpl{db: db} }

const (
	qRecipientGet = `
SELECT id, notification_id, recipient_user_id, received_at, status, read_at, dismissed_at, is_pinned
FROM notification_recipients
WHERE notification_id = $1 AND recipient_user_id = $2;
`
	qRecipientInsert = `
INSERT INTO notification_recipients
    (notification_id, recipient_user_id, received_at, status, read_at, dismissed_at, is_pinned)
VALUES ($1, $2, COALESCE($3, NOW()), $4, $5, $6, $7)
RETURNING id, received_at;
`
	// first timestamps win so repeated transitions keep the original read/dismiss time;
	// the row is only written while it still holds the state the caller read
	qRecipientUpdate = `
UPDATE notification_recipients
SET status       = $2,
    read_at      = COALESCE(read_at, $3),
    dismissed_at = COALESCE(dismissed_at, $4),
    is_pinned    = $5
WHERE id = $1 AND status = $6 AND is_pinned = $7
RETURNING read_at, dismissed_at;
`
)

func (r *RecipientRepoImpl) Get(ctx context.Context, notificationID, userID int64) (*notification.Recipient, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		rc     notification.Recipient
		status string
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qRecipientGet, notificationID, userID).Scan(
		&rc.ID, &rc.NotificationID, &rc.UserID, &rc.ReceivedAt, &status, &rc.ReadAt, &rc.DismissedAt, &rc.IsPinned,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	rc.Status = notification.RecipientStatus(status)
	return &rc, nil
}

func (r *RecipientRepoImpl) Insert(ctx context.Context, rc *notification.Recipient) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qRecipientInsert,
		rc.NotificationID,
		rc.UserID,
		nullTime(rc.ReceivedAt),
		string(rc.Status),
		rc.ReadAt,
		rc.DismissedAt,
		rc.IsPinned,
	).Scan(&rc.ID, &rc.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

// Update is a compare-and-set: rc is written only if the stored row still has
// prev's status and pin flag, otherwise ErrConflict is returned.
func (r *RecipientRepoImpl) Update(ctx context.Context, prev, rc *notification.Recipient) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qRecipientUpdate,
		rc.ID,
		string(rc.Status),
		rc.ReadAt,
		rc.DismissedAt,
		rc.IsPinned,
		string(prev.Status),
		prev.IsPinned,
	).Scan(&rc.ReadAt, &rc.DismissedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		return fmt.Errorf("update recipient: %w", err)
	}
	return nil
}

// MarkAllRead creates READ rows for visible notifications without one and
// promotes explicit UNREAD rows. It returns the number of rows written.
func (r *RecipientRepoImpl) MarkAllRead(ctx context.Context, u user.CurrentUser, at time.Time) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cte, args := visibleCTE(u, []any{u.ID})
	args = append(args, at)
	atArg := fmt.Sprintf("$%d", len(args))

	q := `
WITH ` + cte + `
INSERT INTO notification_recipients AS rc
    (notification_id, recipient_user_id, received_at, status, read_at)
SELECT n.id, $1::bigint, n.created_at, 'READ', ` + atArg + `::timestamptz
FROM notifications n
JOIN visible v ON v.id = n.id
ON CONFLICT (notification_id, recipient_user_id) DO UPDATE
SET status  = 'READ',
    read_at = COALESCE(rc.read_at, EXCLUDED.read_at)
WHERE rc.status = 'UNREAD';`

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
