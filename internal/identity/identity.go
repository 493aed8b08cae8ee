// Package identity reads the acting user out of the backend's access token.
//
// The portal never verifies the signature; the backend does that on every call. The claims are
// only used to fill in the user id sent with status changes and the name shown on the page.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names issued by the backend.
const (
	ClaimUserID = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	ClaimName   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
	ClaimRole   = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

var (
	ErrNoToken   = errors.New("no access token")
	ErrMalformed = errors.New("access token is malformed")
	ErrExpired   = errors.New("access token has expired")
)

type Claims struct {
	UserID    string
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// FromToken decodes raw without verifying it. A token with no exp claim never expires here.
func FromToken(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Claims{}, ErrNoToken
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c := Claims{
		UserID:   claimString(mc, ClaimUserID, "sub", "nameid"),
		Username: claimString(mc, ClaimName, "unique_name", "name"),
		Roles:    claimStrings(mc, ClaimRole, "role", "roles"),
	}
	if c.UserID == "" {
		return Claims{}, fmt.Errorf("%w: user id claim missing", ErrMalformed)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return c, ErrExpired
		}
	}
	return c, nil
}

func claimString(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := mc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// claimStrings accepts either a single string or a list, as .NET emits both.
func claimStrings(mc jwt.MapClaims, keys ...string) []string {
	for _, k := range keys {
		switch v := mc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

type ctxKey struct{}

type Session struct {
	Token  string
	Claims Claims
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
