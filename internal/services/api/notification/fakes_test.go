package notification

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NordCoder/Noticeboard/internal/audience"
	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/outbox"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

type recipientKey struct{ n, u int64 }

type memState struct {
	notifications map[int64]notification.Notification
	rules         map[int64][]notification.Rule
	recipients    map[recipientKey]notification.Recipient
	events        []outbox.Message
}

func (s memState) clone() memState {
	c := memState{
		notifications: make(map[int64]notification.Notification, len(s.notifications)),
		rules:         make(map[int64][]notification.Rule, len(s.rules)),
		recipients:    make(map[recipientKey]notification.Recipient, len(s.recipients)),
		events:        append([]outbox.Message(nil), s.events...),
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = append([]notification.Rule(nil), v...)
	}
	for k, v := range s.recipients {
		c.recipients[k] = v
	}
	return c
}

// memStore implements every storage port over maps. WithTx snapshots the
// state and restores it when the callback fails.
type memStore struct {
	mu     sync.Mutex
	st     memState
	nextID int64
	now    time.Time

	failRuleSave error
	failEnqueue  error
	// staleGets makes the next recipient lookups miss, simulating a lost race.
	staleGets int
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		st: memState{
			notifications: map[int64]notification.Notification{},
			rules:         map[int64][]notification.Rule{},
			recipients:    map[recipientKey]notification.Recipient{},
		},
		now: now,
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	snap := m.st.clone()
	m.mu.Unlock()
	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.st = snap
		m.mu.Unlock()
		return err
	}
	return nil
}

// seed stores a SENT notification with the given rules and returns its id.
func (m *memStore) seed(title string, created time.Time, rules ...notification.Rule) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.st.notifications[id] = notification.Notification{
		ID: id, Title: title, Content: title, Type: notification.TypeGeneral,
		Priority: notification.PriorityMedium, Status: notification.StatusSent,
		Attachments: []string{}, CreatedAt: created, UpdatedAt: created,
	}
	for _, r := range rules {
		r.ID, r.NotificationID = m.id(), id
		if r.ConditionLogic == "" {
			r.ConditionLogic = notification.LogicInclude
		}
		m.st.rules[id] = append(m.st.rules[id], r)
	}
	return id
}

func (m *memStore) recipientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.recipients)
}

func (m *memStore) notificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.notifications)
}

// Repo

func (m *memStore) Create(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.id()
	n.CreatedAt, n.UpdatedAt = m.now, m.now
	cp := *n
	cp.Rules = nil
	m.st.notifications[n.ID] = cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.st.notifications[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return &n, nil
}

func (m *memStore) Update(_ context.Context, id int64, p notification.HeaderPatch) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.st.notifications[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Priority != nil {
		n.Priority = *p.Priority
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	switch {
	case p.ClearSemester:
		n.SemesterID = nil
	case p.SemesterID != nil:
		n.SemesterID = p.SemesterID
	}
	if p.Attachments != nil {
		n.Attachments = *p.Attachments
	}
	n.UpdatedAt = m.now
	m.st.notifications[id] = n
	return &n, nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.notifications[id]; !ok {
		return notification.ErrNotFound
	}
	delete(m.st.notifications, id)
	delete(m.st.rules, id)
	for k := range m.st.recipients {
		if k.n == id {
			delete(m.st.recipients, k)
		}
	}
	return nil
}

func (m *memStore) List(_ context.Context, f notification.AdminFilter) ([]*notification.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.st.notifications {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.Priority != "" && n.Priority != f.Priority {
			continue
		}
		if f.Search != "" && !containsFold(n.Title+" "+n.Content, f.Search) {
			continue
		}
		n := n
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	return paginate(out, f.Page, f.Limit), total, nil
}

// RuleStore

func (m *memStore) Save(_ context.Context, id int64, rules []notification.Rule) ([]notification.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRuleSave != nil {
		return nil, m.failRuleSave
	}
	saved := make([]notification.Rule, 0, len(rules))
	for _, r := range rules {
		r.ID, r.NotificationID, r.CreatedAt = m.id(), id, m.now
		saved = append(saved, r)
	}
	m.st.rules[id] = saved
	return append([]notification.Rule(nil), saved...), nil
}

func (m *memStore) ListFor(_ context.Context, id int64) ([]notification.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Rule{}, m.st.rules[id]...), nil
}

// recipientView exposes the RecipientRepo port; its Update collides with Repo.Update.
type recipientView struct{ *memStore }

func (m *memStore) recipients() recipientView { return recipientView{m} }

func (m recipientView) Get(_ context.Context, nid, uid int64) (*notification.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleGets > 0 {
		m.staleGets--
		return nil, notification.ErrNotFound
	}
	r, ok := m.st.recipients[recipientKey{nid, uid}]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return &r, nil
}

func (m recipientView) Insert(_ context.Context, r *notification.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recipientKey{r.NotificationID, r.UserID}
	if _, ok := m.st.recipients[k]; ok {
		return notification.ErrConflict
	}
	r.ID = m.id()
	m.st.recipients[k] = *r
	return nil
}

func (m recipientView) Update(_ context.Context, prev, r *notification.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recipientKey{r.NotificationID, r.UserID}
	cur, ok := m.st.recipients[k]
	if !ok || cur.Status != prev.Status || cur.IsPinned != prev.IsPinned {
		return notification.ErrConflict
	}
	if cur.ReadAt != nil {
		r.ReadAt = cur.ReadAt
	}
	if cur.DismissedAt != nil {
		r.DismissedAt = cur.DismissedAt
	}
	m.st.recipients[k] = *r
	return nil
}

func (m recipientView) MarkAllRead(_ context.Context, u user.CurrentUser, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, id := range m.visibleLocked(u) {
		k := recipientKey{id, u.ID}
		r, ok := m.st.recipients[k]
		switch {
		case !ok:
			m.st.recipients[k] = notification.Recipient{
				ID: m.id(), NotificationID: id, UserID: u.ID,
				ReceivedAt: m.st.notifications[id].CreatedAt,
				Status:     notification.RecipientRead, ReadAt: &at,
			}
		case r.Status == notification.RecipientUnread:
			r.Status = notification.RecipientRead
			if r.ReadAt == nil {
				r.ReadAt = &at
			}
			m.st.recipients[k] = r
		default:
			continue
		}
		changed++
	}
	return changed, nil
}

// Feed

func (m *memStore) visibleLocked(u user.CurrentUser) []int64 {
	byID := map[int64][]notification.Rule{}
	for id, n := range m.st.notifications {
		if n.Status == notification.StatusSent {
			byID[id] = m.st.rules[id]
		}
	}
	return audience.VisibleSet(u, byID)
}

func (m *memStore) ListVisible(_ context.Context, u user.CurrentUser, f notification.FeedFilter) ([]notification.FeedItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notification.FeedItem
	for _, id := range m.visibleLocked(u) {
		n := m.st.notifications[id]
		var rc *notification.Recipient
		if r, ok := m.st.recipients[recipientKey{id, u.ID}]; ok {
			rc = &r
		}
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.Priority != "" && n.Priority != f.Priority {
			continue
		}
		if f.Search != "" && !containsFold(n.Title+" "+n.Content, f.Search) {
			continue
		}
		if f.RecipientStatus != "" && notification.StateOf(rc) != f.RecipientStatus {
			continue
		}
		out = append(out, notification.FeedItem{Notification: n, Receipt: rc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned() != out[j].Pinned() {
			return out[i].Pinned()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return paginate(out, f.Page, f.Limit), total, nil
}

func (m *memStore) CountUnread(ctx context.Context, u user.CurrentUser) (int, error) {
	items, _, err := m.ListVisible(ctx, u, notification.FeedFilter{RecipientStatus: notification.RecipientUnread})
	return len(items), err
}

// EventOutbox

func (m *memStore) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnqueue != nil {
		return m.failEnqueue
	}
	m.st.events = append(m.st.events, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated})
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func paginate[T any](in []T, page, limit int) []T {
	if limit <= 0 {
		return in
	}
	off := notification.Offset(page, limit)
	if off >= len(in) {
		return nil
	}
	end := off + limit
	if end > len(in) {
		end = len(in)
	}
	return in[off:end]
}
