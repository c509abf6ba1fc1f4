//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
	"github.com/NordCoder/Noticeboard/migrations"
)

// Run with: DB_DSN=postgres://... go test -tags integration ./internal/repository/postgres
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set")
	}

	sqlDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(sqlDB, "."))
	_, err = sqlDB.Exec(`TRUNCATE notifications, outbox RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	db, err := New(context.Background(), Config{DSN: dsn, MaxConns: 8, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func ptr[T any](v T) *T { return &v }

func rule(t notification.AudienceType, v string) notification.Rule {
	r := notification.Rule{AudienceType: t, ConditionLogic: notification.LogicInclude}
	if v != "" {
		r.AudienceValue = ptr(v)
	}
	return r
}

func createNotification(t *testing.T, db *DB, title string, rules ...notification.Rule) *notification.Notification {
	t.Helper()
	ctx := context.Background()
	n := &notification.Notification{
		Title: title, Content: title, Type: notification.TypeGeneral,
		Priority: notification.PriorityMedium, Status: notification.StatusSent, Attachments: []string{},
	}
	err := NewTransactor(db, zap.NewNop()).WithTx(ctx, func(ctx context.Context) error {
		if err := NewNotificationRepo(db).Create(ctx, n); err != nil {
			return err
		}
		var err error
		n.Rules, err = NewRuleRepo(db).Save(ctx, n.ID, rules)
		return err
	})
	require.NoError(t, err)
	return n
}

func student(id, major int64) user.CurrentUser {
	return user.CurrentUser{ID: id, Role: user.RoleStudent, MajorID: ptr(major)}
}

func TestFeed_SQLVisibilityMatchesScenario(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	feed := NewFeedRepo(db)

	majors := createNotification(t, db, "majors",
		rule(notification.AudienceRole, "STUDENT"), rule(notification.AudienceMajor, "7"))
	listed := createNotification(t, db, "listed", rule(notification.AudienceUserList, "12, 5,123"))
	open := createNotification(t, db, "open")
	excluded := createNotification(t, db, "excluded",
		rule(notification.AudienceAllUsers, ""),
		notification.Rule{AudienceType: notification.AudienceUserList, AudienceValue: ptr("10"), ConditionLogic: notification.LogicExclude})

	ids := func(u user.CurrentUser) []int64 {
		items, total, err := feed.ListVisible(ctx, u, notification.FeedFilter{Page: 1, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, len(items), total)
		var out []int64
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []int64{majors.ID, open.ID, excluded.ID}, ids(student(10, 7)))
	assert.ElementsMatch(t, []int64{open.ID, excluded.ID}, ids(student(11, 8)))
	assert.ElementsMatch(t, []int64{listed.ID, open.ID, excluded.ID}, ids(user.CurrentUser{ID: 5, Role: user.RoleLecturer}))
}

func TestRecipients_ConcurrentInsertKeepsOneRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n := createNotification(t, db, "hello", rule(notification.AudienceAllUsers, ""))
	repo := NewRecipientRepo(db)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now()
			err := repo.Insert(ctx, &notification.Recipient{
				NotificationID: n.ID, UserID: 42, ReceivedAt: n.CreatedAt,
				Status: notification.RecipientRead, ReadAt: &now,
			})
			if err != nil {
				assert.ErrorIs(t, err, notification.ErrConflict)
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 7, conflicts)

	rc, err := repo.Get(ctx, n.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, notification.RecipientRead, rc.Status)
}

func TestRecipients_UpdateKeepsFirstTimestamps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n := createNotification(t, db, "hello", rule(notification.AudienceAllUsers, ""))
	repo := NewRecipientRepo(db)

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rc := &notification.Recipient{NotificationID: n.ID, UserID: 1, Status: notification.RecipientRead, ReadAt: &first}
	require.NoError(t, repo.Insert(ctx, rc))
	assert.False(t, rc.ReceivedAt.IsZero())

	prev := *rc
	later := first.Add(time.Hour)
	rc.Status = notification.RecipientDismissed
	rc.ReadAt, rc.DismissedAt = &later, &later
	require.NoError(t, repo.Update(ctx, &prev, rc))

	got, err := repo.Get(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(*got.ReadAt))
	assert.True(t, later.Equal(*got.DismissedAt))

	_, err = repo.Get(ctx, n.ID, 2)
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestRecipients_StaleUpdateIsConflict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n := createNotification(t, db, "hello", rule(notification.AudienceAllUsers, ""))
	repo := NewRecipientRepo(db)

	rc := &notification.Recipient{NotificationID: n.ID, UserID: 1, Status: notification.RecipientUnread}
	require.NoError(t, repo.Insert(ctx, rc))
	read := *rc

	// one request pins the row
	pinned := *rc
	pinned.IsPinned = true
	require.NoError(t, repo.Update(ctx, rc, &pinned))

	// another request still holds the unpinned UNREAD row it read earlier
	now := time.Now()
	read.Status, read.ReadAt = notification.RecipientRead, &now
	err := repo.Update(ctx, rc, &read)
	assert.ErrorIs(t, err, notification.ErrConflict)

	got, err := repo.Get(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, notification.RecipientUnread, got.Status)
	assert.True(t, got.IsPinned)
	assert.Nil(t, got.ReadAt)
}

func TestLists_PagePastEndKeepsTotal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		createNotification(t, db, title, rule(notification.AudienceAllUsers, ""))
	}

	items, total, err := NewFeedRepo(db).ListVisible(ctx, student(10, 7), notification.FeedFilter{Page: 2, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 3, total)

	list, total, err := NewNotificationRepo(db).List(ctx, notification.AdminFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 3, total)

	list, total, err = NewNotificationRepo(db).List(ctx, notification.AdminFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 3, total)
}

func TestRecipients_MarkAllReadAndCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := createNotification(t, db, "a", rule(notification.AudienceAllUsers, ""))
	createNotification(t, db, "b", rule(notification.AudienceRole, "STUDENT"))
	createNotification(t, db, "admins", rule(notification.AudienceRole, "ADMIN"))
	u := student(10, 7)
	feed, repo := NewFeedRepo(db), NewRecipientRepo(db)

	require.NoError(t, repo.Insert(ctx, &notification.Recipient{
		NotificationID: a.ID, UserID: u.ID, Status: notification.RecipientUnread, IsPinned: true,
	}))

	count, err := feed.CountUnread(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := repo.MarkAllRead(ctx, u, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err = feed.CountUnread(ctx, u)
	require.NoError(t, err)
	assert.Zero(t, count)

	items, _, err := feed.ListVisible(ctx, u, notification.FeedFilter{Page: 1, Limit: 10, RecipientStatus: notification.RecipientRead})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, a.ID, items[0].ID)
	assert.True(t, items[0].Pinned())
}

func TestNotifications_UpdateClearsSemester(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n := createNotification(t, db, "x", rule(notification.AudienceAllUsers, ""))
	repo := NewNotificationRepo(db)

	got, err := repo.Update(ctx, n.ID, notification.HeaderPatch{SemesterID: ptr(int64(4))})
	require.NoError(t, err)
	require.NotNil(t, got.SemesterID)

	got, err = repo.Update(ctx, n.ID, notification.HeaderPatch{Title: ptr("kept")})
	require.NoError(t, err)
	require.NotNil(t, got.SemesterID)
	assert.Equal(t, int64(4), *got.SemesterID)

	got, err = repo.Update(ctx, n.ID, notification.HeaderPatch{ClearSemester: true})
	require.NoError(t, err)
	assert.Nil(t, got.SemesterID)
	assert.Equal(t, "kept", got.Title)
}

func TestRules_ReplaceAndCascade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n := createNotification(t, db, "x", rule(notification.AudienceRole, "STUDENT"), rule(notification.AudienceMajor, "7"))
	rules, repo := NewRuleRepo(db), NewNotificationRepo(db)

	saved, err := rules.Save(ctx, n.ID, []notification.Rule{})
	require.NoError(t, err)
	assert.Empty(t, saved)

	listed, err := rules.ListFor(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = rules.Save(ctx, n.ID, []notification.Rule{rule(notification.AudienceAllUsers, "")})
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, n.ID))

	listed, err = rules.ListFor(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.ErrorIs(t, repo.Delete(ctx, n.ID), notification.ErrNotFound)
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewNotificationRepo(db)

	var id int64
	err := NewTransactor(db, zap.NewNop()).WithTx(ctx, func(ctx context.Context) error {
		n := &notification.Notification{Title: "t", Content: "c", Type: notification.TypeGeneral,
			Priority: notification.PriorityLow, Status: notification.StatusSent}
		if err := repo.Create(ctx, n); err != nil {
			return err
		}
		id = n.ID
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetByID(ctx, id)
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestOutbox_EnqueuePickMark(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ob := NewOutboxRepo(db)

	require.NoError(t, ob.Enqueue(ctx, "k1", outbox.KindNotificationPublished, []byte(`{"notification_id":1}`)))
	require.NoError(t, ob.Enqueue(ctx, "k1", outbox.KindNotificationPublished, []byte(`{}`)))

	msgs, err := ob.PickBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.StatusInProgress, msgs[0].Status)
	assert.JSONEq(t, `{"notification_id":1}`, string(msgs[0].Data))

	again, err := ob.PickBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, ob.MarkSuccess(ctx, []string{"k1"}))
	again, err = ob.PickBatch(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}
