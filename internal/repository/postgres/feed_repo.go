package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Noticeboard/internal/audience"
	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

var _ notification.Feed = (*FeedRepoImpl)(nil)

// FeedRepoImpl runs the set-oriented visibility queries: per notification, the
// number of INCLUDE rules must equal the number of INCLUDE rules matching the user.
type FeedRepoImpl struct{ db *DB }

func NewFeedRepo(db *DB) *FeedRepoImpl { return &FeedRepoImpl{db: db} }

// visibleCTE expects $1 to be the recipient user id and appends subject tokens to args.
func visibleCTE(u user.CurrentUser, args []any) (string, []any) {
	match, args := audience.MatchSQL("r", audience.SubjectOf(u), args)
	return `visible AS (
    SELECT n.id
    FROM notifications n
    LEFT JOIN notification_audience_rules r
           ON r.notification_id = n.id AND ` + audience.IncludeSQL("r") + `
    WHERE n.status = '` + string(notification.StatusSent) + `'
    GROUP BY n.id
    HAVING COUNT(r.id) = COUNT(r.id) FILTER (WHERE ` + match + `)
)`, args
}

const unreadCond = `(rc.id IS NULL OR rc.status = 'UNREAD')`

func (r *FeedRepoImpl) ListVisible(ctx context.Context, u user.CurrentUser, f notification.FeedFilter) ([]notification.FeedItem, int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cte, args := visibleCTE(u, []any{u.ID})
	w := where{args: args}
	if f.Type != "" {
		w.add("n.type = ?", string(f.Type))
	}
	if f.Priority != "" {
		w.add("n.priority = ?", string(f.Priority))
	}
	if f.Search != "" {
		p := w.arg(likePattern(f.Search))
		w.conds = append(w.conds, fmt.Sprintf("(n.title ILIKE %s OR n.content ILIKE %s)", p, p))
	}
	switch f.RecipientStatus {
	case "":
	case notification.RecipientUnread:
		w.conds = append(w.conds, unreadCond)
	default:
		w.add("rc.status = ?", string(f.RecipientStatus))
	}
	from := `
FROM notifications n
JOIN visible v ON v.id = n.id
LEFT JOIN notification_recipients rc
       ON rc.notification_id = n.id AND rc.recipient_user_id = $1
` + w.sql()

	var total int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, `WITH `+cte+` SELECT COUNT(*) `+from+`;`, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feed: %w", err)
	}
	off := notification.Offset(f.Page, f.Limit)
	if off >= total {
		return []notification.FeedItem{}, total, nil
	}
	limit := w.arg(f.Limit)
	offset := w.arg(off)

	q := `
WITH ` + cte + `
SELECT ` + notificationColumns + `,
       rc.id, rc.received_at, rc.status, rc.read_at, rc.dismissed_at, rc.is_pinned
` + from + `
ORDER BY COALESCE(rc.is_pinned, FALSE) DESC, n.created_at DESC, n.id DESC
LIMIT ` + limit + ` OFFSET ` + offset + `;`

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var out []notification.FeedItem
	for rows.Next() {
		var (
			item        notification.FeedItem
			rcID        *int64
			receivedAt  *time.Time
			status      *string
			readAt      *time.Time
			dismissedAt *time.Time
			pinned      *bool
		)
		if err := scanNotification(rows, &item.Notification,
			&rcID, &receivedAt, &status, &readAt, &dismissedAt, &pinned); err != nil {
			return nil, 0, err
		}
		if rcID != nil {
			item.Receipt = &notification.Recipient{
				ID:             *rcID,
				NotificationID: item.ID,
				UserID:         u.ID,
				ReceivedAt:     derefTime(receivedAt),
				Status:         notification.RecipientStatus(derefString(status)),
				ReadAt:         readAt,
				DismissedAt:    dismissedAt,
				IsPinned:       pinned != nil && *pinned,
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func (r *FeedRepoImpl) CountUnread(ctx context.Context, u user.CurrentUser) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cte, args := visibleCTE(u, []any{u.ID})
	q := `
WITH ` + cte + `
SELECT COUNT(*)
FROM visible v
LEFT JOIN notification_recipients rc
       ON rc.notification_id = v.id AND rc.recipient_user_id = $1
WHERE ` + unreadCond + `;`

	var n int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
