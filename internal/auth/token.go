package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NordCoder/Noticeboard/internal/domain/user"
)

var ErrTokenInvalid = errors.New("invalid token")

// Claims carries the caller identity. Subject holds the numeric user id.
type Claims struct {
	Role         string `json:"role"`
	MajorID      *int64 `json:"major_id,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret []byte, issuer string, ttl time.Duration) *Codec {
	return &Codec{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

func (c *Codec) Sign(u user.CurrentUser) (string, error) {
	now := c.now()
	claims := Claims{
		Role:         string(u.Role),
		MajorID:      u.MajorID,
		DepartmentID: u.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.IDString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (c *Codec) Parse(token string) (user.CurrentUser, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...); err != nil {
		return user.CurrentUser{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return user.CurrentUser{}, fmt.Errorf("%w: bad subject %q", ErrTokenInvalid, claims.Subject)
	}
	role := user.Role(claims.Role)
	switch role {
	case user.RoleAdmin, user.RoleStudent, user.RoleLecturer, user.RoleStaff:
	default:
		return user.CurrentUser{}, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}

	return user.CurrentUser{
		ID:           id,
		Role:         role,
		MajorID:      claims.MajorID,
		DepartmentID: claims.DepartmentID,
	}, nil
}
