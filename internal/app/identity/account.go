package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already exists")
)

// Account is a registered user. OwnerID is the id every event is scoped by.
type Account struct {
	OwnerID      string
	Username     string
	PasswordHash string
}

// RefreshSession is the stored half of a refresh token. Only the sha256 of
// the token is kept.
type RefreshSession struct {
	ID        string
	OwnerID   string
	TokenHash string
	ExpiresAt time.Time
}

// Store persists accounts and refresh sessions.
type Store interface {
	EnsureSchema(ctx context.Context) error

	InsertAccount(ctx context.Context, account Account) error
	AccountByUsername(ctx context.Context, username string) (Account, error)
	AccountByOwner(ctx context.Context, ownerID string) (Account, error)

	InsertSession(ctx context.Context, session RefreshSession) error
	// TakeSession revokes the live session matching tokenHash and returns
	// it. A session can be taken once; later calls get ErrNotFound.
	TakeSession(ctx context.Context, tokenHash string, now time.Time) (RefreshSession, error)
}
