package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const notificationColumns = `n.id, n.title, n.content, n.type, n.priority, n.status,
       n.semester_id, n.attachments, n.created_by, n.created_at, n.updated_at`

const (
	qNotifInsert = `
INSERT INTO notifications (title, content, type, priority, status, semester_id, attachments, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at;
`
	qNotifGetByID = `
SELECT ` + notificationColumns + `
FROM notifications n
WHERE n.id = $1;
`
	qNotifUpdate = `
UPDATE notifications n
SET title       = COALESCE($2, n.title),
    content     = COALESCE($3, n.content),
    type        = COALESCE($4, n.type),
    priority    = COALESCE($5, n.priority),
    status      = COALESCE($6, n.status),
    semester_id = CASE WHEN $9::boolean THEN NULL ELSE COALESCE($7, n.semester_id) END,
    attachments = COALESCE($8, n.attachments),
    updated_at  = NOW()
WHERE n.id = $1
RETURNING ` + notificationColumns + `;
`
	qNotifDelete = `DELETE FROM notifications WHERE id = $1;`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner, n *notification.Notification, extra ...any) error {
	var typ, prio, status string
	dest := []any{
		&n.ID, &n.Title, &n.Content, &typ, &prio, &status,
		&n.SemesterID, &n.Attachments, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan notification: %w", err)
	}
	n.Type = notification.Type(typ)
	n.Priority = notification.Priority(prio)
	n.Status = notification.Status(status)
	if n.Attachments == nil {
		n.Attachments = []string{}
	}
	return nil
}

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	attachments := n.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qNotifInsert,
		n.Title,
		n.Content,
		string(n.Type),
		string(n.Priority),
		string(n.Status),
		n.SemesterID,
		attachments,
		n.CreatedBy,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Attachments = attachments
	return nil
}

func (r *NotificationRepoImpl) GetByID(ctx context.Context, id int64) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n notification.Notification
	if err := scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifGetByID, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepoImpl) Update(ctx context.Context, id int64, p notification.HeaderPatch) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var attachments any
	if p.Attachments != nil {
		a := *p.Attachments
		if a == nil {
			a = []string{}
		}
		attachments = a
	}

	var n notification.Notification
	row := r.db.execQueryer(ctx).QueryRow(ctx, qNotifUpdate,
		id,
		p.Title,
		p.Content,
		textOrNil(p.Type),
		textOrNil(p.Priority),
		textOrNil(p.Status),
		p.SemesterID,
		attachments,
		p.ClearSemester,
	)
	if err := scanNotification(row, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepoImpl) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qNotifDelete, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepoImpl) List(ctx context.Context, f notification.AdminFilter) ([]*notification.Notification, int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var w where
	if f.Status != "" {
		w.add("n.status = ?", string(f.Status))
	}
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
	var total int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications n `+w.sql()+`;`, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	off := notification.Offset(f.Page, f.Limit)
	if off >= total {
		return []*notification.Notification{}, total, nil
	}
	limit := w.arg(f.Limit)
	offset := w.arg(off)

	q := `
SELECT ` + notificationColumns + `
FROM notifications n
` + w.sql() + `
ORDER BY n.created_at DESC, n.id DESC
LIMIT ` + limit + ` OFFSET ` + offset + `;`

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, 0, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	return out, total, nil
}

func textOrNil[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
