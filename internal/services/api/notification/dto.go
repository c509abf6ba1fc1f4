package notification

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
)

type ruleDTO struct {
	AudienceType   string  `json:"audienceType" binding:"required"`
	AudienceValue  *string `json:"audienceValue"`
	ConditionLogic string  `json:"conditionLogic"`
}

type createReq struct {
	Title         string    `json:"title" binding:"required,max=255"`
	Content       string    `json:"content" binding:"required"`
	Type          string    `json:"type"`
	Priority      string    `json:"priority"`
	SemesterID    *int64    `json:"semesterId" binding:"omitempty,gt=0"`
	Attachments   []string  `json:"attachments" binding:"omitempty,dive,max=1000"`
	AudienceRules []ruleDTO `json:"audienceRules" binding:"dive"`
}

// nullable records whether a JSON key was present, so an explicit null can be
// told apart from an absent field.
type nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// updateReq.AudienceRules: absent or null leaves rules untouched, [] clears them.
// updateReq.SemesterID: absent leaves it untouched, null clears it.
type updateReq struct {
	Title         *string         `json:"title" binding:"omitempty,max=255"`
	Content       *string         `json:"content"`
	Type          *string         `json:"type"`
	Priority      *string         `json:"priority"`
	Status        *string         `json:"status"`
	SemesterID    nullable[int64] `json:"semesterId"`
	Attachments   *[]string       `json:"attachments"`
	AudienceRules *[]ruleDTO      `json:"audienceRules"`
}

type pinReq struct {
	Pinned *bool `json:"pinned" binding:"required"`
}

type feedQuery struct {
	Search   string `form:"search"`
	Type     string `form:"type"`
	Priority string `form:"priority"`
	Status   string `form:"status"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

type ruleResp struct {
	ID             int64     `json:"id"`
	AudienceType   string    `json:"audienceType"`
	AudienceValue  *string   `json:"audienceValue"`
	ConditionLogic string    `json:"conditionLogic"`
	CreatedAt      time.Time `json:"createdAt"`
}

type notificationResp struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Type          string     `json:"type"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	SemesterID    *int64     `json:"semesterId"`
	Attachments   []string   `json:"attachments"`
	CreatedBy     *int64     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	AudienceRules []ruleResp `json:"audienceRules,omitempty"`
}

type feedItemResp struct {
	notificationResp
	RecipientStatus string     `json:"recipientStatus"`
	ReadAt          *time.Time `json:"readAt"`
	DismissedAt     *time.Time `json:"dismissedAt"`
	IsPinned        bool       `json:"isPinned"`
}

type recipientResp struct {
	NotificationID int64      `json:"notificationId"`
	Status         string     `json:"status"`
	ReceivedAt     *time.Time `json:"receivedAt"`
	ReadAt         *time.Time `json:"readAt"`
	DismissedAt    *time.Time `json:"dismissedAt"`
	IsPinned       bool       `json:"isPinned"`
}

type pageResp[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func rulesFromDTO(in []ruleDTO) []notification.Rule {
	out := make([]notification.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, notification.Rule{
			AudienceType:   notification.AudienceType(r.AudienceType),
			AudienceValue:  r.AudienceValue,
			ConditionLogic: notification.ConditionLogic(r.ConditionLogic),
		})
	}
	return out
}

func (r createReq) toInput() notification.CreateInput {
	return notification.CreateInput{
		Header: notification.Header{
			Title:       r.Title,
			Content:     r.Content,
			Type:        notification.Type(r.Type),
			Priority:    notification.Priority(r.Priority),
			SemesterID:  r.SemesterID,
			Attachments: r.Attachments,
		},
		Rules: rulesFromDTO(r.AudienceRules),
	}
}

func (r updateReq) toInput() notification.UpdateInput {
	in := notification.UpdateInput{
		Patch: notification.HeaderPatch{
			Title:         r.Title,
			Content:       r.Content,
			SemesterID:    r.SemesterID.Value,
			ClearSemester: r.SemesterID.Set && r.SemesterID.Value == nil,
			Attachments:   r.Attachments,
		},
	}
	if r.Type != nil {
		t := notification.Type(*r.Type)
		in.Patch.Type = &t
	}
	if r.Priority != nil {
		p := notification.Priority(*r.Priority)
		in.Patch.Priority = &p
	}
	if r.Status != nil {
		s := notification.Status(*r.Status)
		in.Patch.Status = &s
	}
	if r.AudienceRules != nil {
		rules := rulesFromDTO(*r.AudienceRules)
		in.Rules = &rules
	}
	return in
}

func toRuleResp(rules []notification.Rule) []ruleResp {
	out := make([]ruleResp, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleResp{
			ID:             r.ID,
			AudienceType:   string(r.AudienceType),
			AudienceValue:  r.AudienceValue,
			ConditionLogic: string(r.ConditionLogic),
			CreatedAt:      r.CreatedAt,
		})
	}
	return out
}

func toNotificationResp(n *notification.Notification) notificationResp {
	attachments := n.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	resp := notificationResp{
		ID:          n.ID,
		Title:       n.Title,
		Content:     n.Content,
		Type:        string(n.Type),
		Priority:    string(n.Priority),
		Status:      string(n.Status),
		SemesterID:  n.SemesterID,
		Attachments: attachments,
		CreatedBy:   n.CreatedBy,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
	if len(n.Rules) > 0 {
		resp.AudienceRules = toRuleResp(n.Rules)
	}
	return resp
}

func toFeedItemResp(f notification.FeedItem) feedItemResp {
	n := f.Notification
	n.Rules = nil
	return feedItemResp{
		notificationResp: toNotificationResp(&n),
		RecipientStatus:  string(f.Status()),
		ReadAt:           f.ReadAt(),
		DismissedAt:      f.DismissedAt(),
		IsPinned:         f.Pinned(),
	}
}

// toRecipientResp renders the caller's state; nil means no row yet.
func toRecipientResp(id int64, r *notification.Recipient) recipientResp {
	if r == nil {
		return recipientResp{NotificationID: id, Status: string(notification.RecipientUnread)}
	}
	received := r.ReceivedAt
	return recipientResp{
		NotificationID: id,
		Status:         string(r.Status),
		ReceivedAt:     &received,
		ReadAt:         r.ReadAt,
		DismissedAt:    r.DismissedAt,
		IsPinned:       r.IsPinned,
	}
}
