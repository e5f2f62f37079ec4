// Package auth models bearer session tokens.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrInvalidSession is returned when a token hash matches no live session.
var ErrInvalidSession = errors.New("invalid session")

// Session is one issued bearer token, stored by its SHA-256 hash. A nil
// ExpiresAt means the session does not expire.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt *time.Time
}

// Expired reports whether the session has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Repository provides session lookup by token hash.
type Repository interface {
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
}
