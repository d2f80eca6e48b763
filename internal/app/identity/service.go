package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/event-tracker/project/internal/platform/auth"
	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen    = 8
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidUsername     = errors.New("username is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Session is what a successful sign-in hands back to the client.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	OwnerID      string `json:"owner_id"`
	Username     string `json:"username"`
}

// Service turns credentials into the owner id the event repository is
// scoped by. Nothing else mints that id.
type Service struct {
	Store      Store
	AuthToken  auth.Manager
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(store Store, tokenManager auth.Manager) *Service {
	return &Service{
		Store:      store,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		RefreshTTL: defaultRefreshTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewTokenManager signs access tokens; ttl <= 0 falls back to 15 minutes.
func NewTokenManager(secret string, ttl time.Duration) auth.Manager {
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	return auth.NewManager(secret, ttl)
}

func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	username = canonicalUsername(username)
	if username == "" {
		return Session{}, ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < minPasswordLen {
		return Session{}, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}
	account := Account{OwnerID: s.NewID(), Username: username, PasswordHash: string(hash)}
	if err := s.Store.InsertAccount(ctx, account); err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, account)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = canonicalUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return Session{}, ErrInvalidCredentials
	}

	account, err := s.Store.AccountByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.startSession(ctx, account)
}

// Refresh exchanges a refresh token for a new session. The old token is
// spent even when issuing the new one fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	taken, err := s.takeSession(ctx, refreshToken)
	switch {
	case errors.Is(err, ErrNotFound):
		return Session{}, ErrInvalidRefreshToken
	case err != nil:
		return Session{}, err
	}

	account, err := s.Store.AccountByOwner(ctx, taken.OwnerID)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, account)
}

// Logout spends a refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.takeSession(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) takeSession(ctx context.Context, refreshToken string) (RefreshSession, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return RefreshSession{}, ErrRefreshTokenMissing
	}
	return s.Store.TakeSession(ctx, tokenDigest(refreshToken), s.Now())
}

func (s *Service) startSession(ctx context.Context, account Account) (Session, error) {
	access, err := s.AuthToken.Sign(account.OwnerID, account.Username)
	if err != nil {
		return Session{}, err
	}

	refresh := s.NewID() + "." + s.NewID()
	err = s.Store.InsertSession(ctx, RefreshSession{
		ID:        s.NewID(),
		OwnerID:   account.OwnerID,
		TokenHash: tokenDigest(refresh),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		OwnerID:      account.OwnerID,
		Username:     account.Username,
	}, nil
}

func canonicalUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func tokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
