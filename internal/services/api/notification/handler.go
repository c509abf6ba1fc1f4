package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/domain/notification"
	"github.com/NordCoder/Noticeboard/internal/domain/user"
	"github.com/NordCoder/Noticeboard/internal/obs"
	"github.com/NordCoder/Noticeboard/internal/services/api/auth"
)

type Handler struct {
	log     *zap.Logger
	admin   *Usecase
	tracker *Tracker
}

func NewHandler(log *zap.Logger, admin *Usecase, tracker *Tracker) *Handler {
	return &Handler{log: log, admin: admin, tracker: tracker}
}

// Register mounts the user feed under /v1/notifications and the admin surface
// under /v1/admin/notifications. authn must set the current user.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	me := r.Group("/v1/notifications/me", authn)
	me.GET("", h.listMine)
	me.GET("/unread-count", h.unreadCount)
	me.POST("/read-all", h.markAllRead)
	me.GET("/:id", h.getMine)
	me.POST("/:id/read", h.markRead)
	me.POST("/:id/dismiss", h.dismiss)
	me.POST("/:id/archive", h.archive)
	me.PUT("/:id/pin", h.pin)

	adm := r.Group("/v1/admin/notifications", authn, auth.RequireRoles(user.RoleAdmin))
	adm.POST("", h.create)
	adm.GET("", h.list)
	adm.GET("/:id", h.get)
	adm.PATCH("/:id", h.update)
	adm.DELETE("/:id", h.delete)
	adm.GET("/:id/rules", h.rules)
}

func (h *Handler) caller(c *gin.Context) (user.CurrentUser, bool) {
	u, ok := auth.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	}
	return u, ok
}

func (h *Handler) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) bindErr(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  notification.ErrValidation.Error(),
			"fields": formatValidationErrors(ve),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	var ve *notification.ValidationError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": notification.ErrValidation.Error(), "fields": ve.Fields})
	case errors.Is(err, notification.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, notification.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, notification.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		obs.WithTrace(c.Request.Context(), h.log).Error("request failed",
			zap.String("route", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func formatValidationErrors(ve validator.ValidationErrors) []notification.FieldError {
	out := make([]notification.FieldError, 0, len(ve))
	for _, fe := range ve {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "max":
			msg = fmt.Sprintf("must be at most %s", fe.Param())
		case "min", "gt":
			msg = fmt.Sprintf("must be greater than %s", fe.Param())
		default:
			msg = fmt.Sprintf("failed on %q", fe.Tag())
		}
		out = append(out, notification.FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

func (h *Handler) listMine(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	var q feedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindErr(c, err)
		return
	}
	f := notification.FeedFilter{
		Search:          q.Search,
		Type:            notification.Type(q.Type),
		Priority:        notification.Priority(q.Priority),
		RecipientStatus: notification.RecipientStatus(q.Status),
		Page:            q.Page,
		Limit:           q.Limit,
	}
	items, total, err := h.tracker.ListForUser(c.Request.Context(), u, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	page, limit := h.tracker.window(f)
	resp := pageResp[feedItemResp]{Items: make([]feedItemResp, 0, len(items)), Total: total, Page: page, Limit: limit}
	for _, it := range items {
		resp.Items = append(resp.Items, toFeedItemResp(it))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) unreadCount(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	n, err := h.tracker.UnreadCount(c.Request.Context(), u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) getMine(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	item, err := h.tracker.GetForUser(c.Request.Context(), u, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeedItemResp(*item))
}

func (h *Handler) markAllRead(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	n, err := h.tracker.MarkAllRead(c.Request.Context(), u)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) markRead(c *gin.Context) { h.recipientAction(c, h.tracker.MarkRead) }
func (h *Handler) dismiss(c *gin.Context)  { h.recipientAction(c, h.tracker.Dismiss) }
func (h *Handler) archive(c *gin.Context)  { h.recipientAction(c, h.tracker.Archive) }

func (h *Handler) pin(c *gin.Context) {
	var req pinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindErr(c, err)
		return
	}
	h.recipientAction(c, func(ctx context.Context, u user.CurrentUser, id int64) (*notification.Recipient, error) {
		return h.tracker.SetPinned(ctx, u, id, *req.Pinned)
	})
}

type recipientFunc func(ctx context.Context, u user.CurrentUser, id int64) (*notification.Recipient, error)

func (h *Handler) recipientAction(c *gin.Context, act recipientFunc) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	rc, err := act(c.Request.Context(), u, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecipientResp(id, rc))
}

func (h *Handler) create(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindErr(c, err)
		return
	}
	n, err := h.admin.Create(c.Request.Context(), u, req.toInput())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toNotificationResp(n))
}

func (h *Handler) list(c *gin.Context) {
	var q feedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindErr(c, err)
		return
	}
	f := notification.AdminFilter{
		Search:   q.Search,
		Type:     notification.Type(q.Type),
		Priority: notification.Priority(q.Priority),
		Status:   notification.Status(q.Status),
		Page:     q.Page,
		Limit:    q.Limit,
	}
	f.Page, f.Limit = h.tracker.window(notification.FeedFilter{Page: f.Page, Limit: f.Limit})
	list, total, err := h.admin.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := pageResp[notificationResp]{Items: make([]notificationResp, 0, len(list)), Total: total, Page: f.Page, Limit: f.Limit}
	for _, n := range list {
		resp.Items = append(resp.Items, toNotificationResp(n))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) get(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	n, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotificationResp(n))
}

func (h *Handler) update(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindErr(c, err)
		return
	}
	n, err := h.admin.Update(c.Request.Context(), u, id, req.toInput())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotificationResp(n))
}

func (h *Handler) delete(c *gin.Context) {
	u, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.admin.Delete(c.Request.Context(), u, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) rules(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	rules, err := h.admin.ListRules(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toRuleResp(rules)})
}
