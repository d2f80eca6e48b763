package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

const createSQLiteAccountsSQL = `
CREATE TABLE IF NOT EXISTS accounts (
  owner_id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const createSQLiteRefreshSessionsSQL = `
CREATE TABLE IF NOT EXISTS refresh_sessions (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL REFERENCES accounts(owner_id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL UNIQUE,
  expires_at_ms INTEGER NOT NULL,
  revoked_at_ms INTEGER
)`

// SQLiteStore keeps accounts in the same file as the sqlite document
// store, so a local run keeps its users across restarts. Times are stored
// as unix milliseconds.
type SQLiteStore struct {
	DB *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createSQLiteAccountsSQL, createSQLiteRefreshSessionsSQL} {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) InsertAccount(ctx context.Context, account Account) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO accounts (owner_id, username, password_hash) VALUES (?, ?, ?)`,
		account.OwnerID, account.Username, account.PasswordHash,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrUsernameTaken
	}
	return err
}

func (s *SQLiteStore) AccountByUsername(ctx context.Context, username string) (Account, error) {
	return s.account(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	return s.account(ctx, `WHERE owner_id = ?`, ownerID)
}

func (s *SQLiteStore) account(ctx context.Context, where string, arg string) (Account, error) {
	var a Account
	err := s.DB.QueryRowContext(ctx,
		`SELECT owner_id, username, password_hash FROM accounts `+where, arg,
	).Scan(&a.OwnerID, &a.Username, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) InsertSession(ctx context.Context, session RefreshSession) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO refresh_sessions (id, owner_id, token_hash, expires_at_ms) VALUES (?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.TokenHash, session.ExpiresAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) TakeSession(ctx context.Context, tokenHash string, now time.Time) (RefreshSession, error) {
	rs := RefreshSession{TokenHash: tokenHash}
	var expiresMS int64
	err := s.DB.QueryRowContext(ctx,
		`UPDATE refresh_sessions SET revoked_at_ms = ?
		 WHERE token_hash = ? AND revoked_at_ms IS NULL AND expires_at_ms > ?
		 RETURNING id, owner_id, expires_at_ms`,
		now.UnixMilli(), tokenHash, now.UnixMilli(),
	).Scan(&rs.ID, &rs.OwnerID, &expiresMS)
	if errors.Is(err, sql.ErrNoRows) {
		return RefreshSession{}, ErrNotFound
	}
	if err != nil {
		return RefreshSession{}, err
	}
	rs.ExpiresAt = time.UnixMilli(expiresMS).UTC()
	return rs, nil
}
