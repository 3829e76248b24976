// Package auth holds the bearer credential of a session. The token is issued
// elsewhere; this package only reads the identity it carries.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when an operation needs a credential and none is set.
	ErrNoToken = errors.New("auth: no token")
	// ErrNoUserID is returned when the token carries neither user_id nor sub.
	ErrNoUserID = errors.New("auth: token has no user id claim")
)

// Claims is what the chat core reads from a token. The signature is not
// verified here; the server does that on every request.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token has an exp claim in the past.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ParseClaims extracts the user id (user_id, falling back to sub) and expiry.
func ParseClaims(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Claims{}, ErrNoToken
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", err)
	}
	var c Claims
	c.UserID = claimString(mc["user_id"])
	if c.UserID == "" {
		c.UserID = claimString(mc["sub"])
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if c.UserID == "" {
		return c, ErrNoUserID
	}
	return c, nil
}

// numbers come back from JSON as float64
func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

// BearerHeader renders the Authorization header value for token.
func BearerHeader(token string) string {
	return "Bearer " + token
}
