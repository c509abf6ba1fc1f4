package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

type ctxKey int

const userKey ctxKey = 1

const ginUserKey = "current_user"

type TokenParser interface {
	Parse(token string) (user.CurrentUser, error)
}

func WithUser(ctx context.Context, u user.CurrentUser) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromCtx(ctx context.Context) (user.CurrentUser, bool) {
	u, ok := ctx.Value(userKey).(user.CurrentUser)
	return u, ok
}

// CurrentUser reads the identity stored by Middleware.
func CurrentUser(c *gin.Context) (user.CurrentUser, bool) {
	v, ok := c.Get(ginUserKey)
	if !ok {
		return user.CurrentUser{}, false
	}
	u, ok := v.(user.CurrentUser)
	return u, ok
}

// Middleware authenticates the bearer token and stores the caller on both the
// gin context and the request context.
func Middleware(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		u, err := p.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ginUserKey, u)
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
		c.Next()
	}
}

// RequireRoles must run after Middleware.
func RequireRoles(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func bearer(h string) string {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
