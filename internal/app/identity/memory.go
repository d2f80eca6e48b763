package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs runs that use the in-memory document store.
type MemoryStore struct {
	mu         sync.Mutex
	byOwner    map[string]Account
	byUsername map[string]string
	sessions   map[string]*memorySession
}

type memorySession struct {
	RefreshSession
	revoked bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOwner:    map[string]Account{},
		byUsername: map[string]string{},
		sessions:   map[string]*memorySession{},
	}
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) InsertAccount(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byUsername[account.Username]; taken {
		return ErrUsernameTaken
	}
	m.byOwner[account.OwnerID] = account
	m.byUsername[account.Username] = account.OwnerID
	return nil
}

func (m *MemoryStore) AccountByUsername(ctx context.Context, username string) (Account, error) {
	m.mu.Lock()
	ownerID, ok := m.byUsername[username]
	m.mu.Unlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.AccountByOwner(ctx, ownerID)
}

func (m *MemoryStore) AccountByOwner(_ context.Context, ownerID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byOwner[ownerID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) InsertSession(_ context.Context, session RefreshSession) error {
	m.mu.Lock()
	m.sessions[session.TokenHash] = &memorySession{RefreshSession: session}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) TakeSession(_ context.Context, tokenHash string, now time.Time) (RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok || s.revoked || !s.ExpiresAt.After(now) {
		return RefreshSession{}, ErrNotFound
	}
	s.revoked = true
	return s.RefreshSession, nil
}
