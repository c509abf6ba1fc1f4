package notification

import "time"

type Type string

const (
	TypeAcademic Type = "ACADEMIC"
	TypeEvent    Type = "EVENT"
	TypeSurvey   Type = "SURVEY"
	TypeSystem   Type = "SYSTEM"
	TypeFee      Type = "FEE"
	TypeExam     Type = "EXAM"
	TypeGeneral  Type = "GENERAL"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAcademic, TypeEvent, TypeSurvey, TypeSystem, TypeFee, TypeExam, TypeGeneral:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusScheduled       Status = "SCHEDULED"
	StatusSent            Status = "SENT"
	StatusArchivedByAdmin Status = "ARCHIVED_BY_ADMIN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSent, StatusArchivedByAdmin:
		return true
	}
	return false
}

type AudienceType string

const (
	AudienceAllUsers   AudienceType = "ALL_USERS"
	AudienceRole       AudienceType = "ROLE"
	AudienceMajor      AudienceType = "MAJOR"
	AudienceDepartment AudienceType = "DEPARTMENT"
	AudienceUserList   AudienceType = "USER_LIST"
)

func (a AudienceType) Valid() bool {
	switch a {
	case AudienceAllUsers, AudienceRole, AudienceMajor, AudienceDepartment, AudienceUserList:
		return true
	}
	return false
}

type ConditionLogic string

const (
	LogicInclude ConditionLogic = "INCLUDE"
	// LogicExclude rows are stored and listed but never evaluated.
	LogicExclude ConditionLogic = "EXCLUDE"
)

func (c ConditionLogic) Valid() bool { return c == LogicInclude || c == LogicExclude }

type RecipientStatus string

const (
	RecipientUnread         RecipientStatus = "UNREAD"
	RecipientRead           RecipientStatus = "READ"
	RecipientDismissed      RecipientStatus = "DISMISSED"
	RecipientArchivedByUser RecipientStatus = "ARCHIVED_BY_USER"
)

func (s RecipientStatus) Valid() bool {
	switch s {
	case RecipientUnread, RecipientRead, RecipientDismissed, RecipientArchivedByUser:
		return true
	}
	return false
}

const (
	MaxRules            = 10
	MaxAudienceValueLen = 500
)

type Rule struct {
	ID             int64          `json:"id"`
	NotificationID int64          `json:"notification_id"`
	AudienceType   AudienceType   `json:"audience_type"`
	AudienceValue  *string        `json:"audience_value"`
	ConditionLogic ConditionLogic `json:"condition_logic"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Value returns the audience value or "" when it is NULL.
func (r Rule) Value() string {
	if r.AudienceValue == nil {
		return ""
	}
	return *r.AudienceValue
}

type Notification struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Type        Type      `json:"type"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	SemesterID  *int64    `json:"semester_id"`
	Attachments []string  `json:"attachments"`
	CreatedBy   *int64    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Rules       []Rule    `json:"rules,omitempty"`
}

// Recipient is the sparse per-user delivery row. Its absence means UNREAD.
type Recipient struct {
	ID             int64           `json:"id"`
	NotificationID int64           `json:"notification_id"`
	UserID         int64           `json:"recipient_user_id"`
	ReceivedAt     time.Time       `json:"received_at"`
	Status         RecipientStatus `json:"status"`
	ReadAt         *time.Time      `json:"read_at"`
	DismissedAt    *time.Time      `json:"dismissed_at"`
	IsPinned       bool            `json:"is_pinned"`
}

// FeedItem is a notification as seen by one user. Receipt is nil when the user
// has no recipient row yet.
type FeedItem struct {
	Notification
	Receipt *Recipient
}

func (f FeedItem) Status() RecipientStatus { return StateOf(f.Receipt) }

func (f FeedItem) Pinned() bool { return f.Receipt != nil && f.Receipt.IsPinned }

func (f FeedItem) ReadAt() *time.Time {
	if f.Receipt == nil {
		return nil
	}
	return f.Receipt.ReadAt
}

func (f FeedItem) DismissedAt() *time.Time {
	if f.Receipt == nil {
		return nil
	}
	return f.Receipt.DismissedAt
}

// StateOf resolves the delivery status of an optional recipient row.
func StateOf(r *Recipient) RecipientStatus {
	if r == nil {
		return RecipientUnread
	}
	return r.Status
}

type Header struct {
	Title       string
	Content     string
	Type        Type
	Priority    Priority
	SemesterID  *int64
	Attachments []string
}

// HeaderPatch carries only the fields present in an update request.
// ClearSemester drops the semester reference; SemesterID is then ignored.
type HeaderPatch struct {
	Title         *string
	Content       *string
	Type          *Type
	Priority      *Priority
	Status        *Status
	SemesterID    *int64
	ClearSemester bool
	Attachments   *[]string
}

func (p HeaderPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Type == nil && p.Priority == nil &&
		p.Status == nil && p.SemesterID == nil && !p.ClearSemester && p.Attachments == nil
}

type CreateInput struct {
	Header
	Rules []Rule
}

// UpdateInput.Rules: nil leaves the rule set untouched, an empty slice clears it.
type UpdateInput struct {
	Patch HeaderPatch
	Rules *[]Rule
}

type FeedFilter struct {
	Search          string
	Type            Type
	Priority        Priority
	RecipientStatus RecipientStatus
	Page            int
	Limit           int
}

type AdminFilter struct {
	Search   string
	Type     Type
	Priority Priority
	Status   Status
	Page     int
	Limit    int
}

func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
