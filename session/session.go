// Package session holds the explicit actor context for one signed-in user.
// A Session is built once from the bearer token and passed to every
// component that needs the actor's identity or role.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"fleettrackr/auth"
	"fleettrackr/renewal"
)

var (
	// ErrNoToken signals that no bearer credential was supplied.
	ErrNoToken = errors.New("session: missing bearer token")
	// ErrExpired signals that the bearer credential has expired.
	ErrExpired = errors.New("session: token expired")
	// ErrClaims signals that the token lacks a usable id or role claim.
	ErrClaims = errors.New("session: invalid token claims")
)

// Session is the signed-in actor.
type Session struct {
	Token     string
	UserID    string
	Name      string
	Role      auth.Role
	ExpiresAt time.Time
}

type options struct {
	secret []byte
	now    func() time.Time
}

// Option customises how a token is read.
type Option func(*options)

// WithSecret verifies the token's HMAC signature instead of only decoding it.
func WithSecret(secret string) Option {
	return func(o *options) { o.secret = []byte(secret) }
}

// WithClock overrides the clock used for the expiry check.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New reads the actor id and role claims from a bearer token. Without
// WithSecret the signature is not checked; the API remains the authority.
func New(token string, opts ...Option) (*Session, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if len(o.secret) > 0 {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return o.secret, nil
		}); err != nil {
			return nil, fmt.Errorf("session: verify token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("session: parse token: %w", err)
		}
	}

	userID := firstString(claims, "user_id", "id", "sub")
	if userID == "" {
		return nil, fmt.Errorf("%w: no user id", ErrClaims)
	}
	role, ok := auth.ParseRole(firstString(claims, "role"))
	if !ok {
		return nil, fmt.Errorf("%w: role %v", ErrClaims, claims["role"])
	}

	s := &Session{
		Token:  token,
		UserID: userID,
		Name:   firstString(claims, "name"),
		Role:   role,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
		if !o.now().Before(exp.Time) {
			return nil, ErrExpired
		}
	}
	return s, nil
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Actor returns the workflow identity of the session.
func (s *Session) Actor() renewal.Actor {
	return renewal.Actor{ID: s.UserID, Role: s.Role}
}

// Expired reports whether the token's exp claim has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenSource exposes the bearer token for oauth2 transports.
func (s *Session) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: s.Token,
		TokenType:   "Bearer",
		Expiry:      s.ExpiresAt,
	})
}
