package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createAccountsSQL = `
CREATE TABLE IF NOT EXISTS accounts (
  owner_id text PRIMARY KEY,
  username text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createRefreshSessionsSQL = `
CREATE TABLE IF NOT EXISTS refresh_sessions (
  id text PRIMARY KEY,
  owner_id text NOT NULL REFERENCES accounts(owner_id) ON DELETE CASCADE,
  token_hash text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  revoked_at timestamptz
)`

const uniqueViolation = "23505"

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createAccountsSQL, createRefreshSessionsSQL} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) InsertAccount(ctx context.Context, account Account) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO accounts (owner_id, username, password_hash) VALUES ($1, $2, $3)`,
		account.OwnerID, account.Username, account.PasswordHash,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	return err
}

func (s *PostgresStore) AccountByUsername(ctx context.Context, username string) (Account, error) {
	return s.account(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	return s.account(ctx, `WHERE owner_id = $1`, ownerID)
}

func (s *PostgresStore) account(ctx context.Context, where string, arg string) (Account, error) {
	var a Account
	err := s.Pool.QueryRow(ctx,
		`SELECT owner_id, username, password_hash FROM accounts `+where, arg,
	).Scan(&a.OwnerID, &a.Username, &a.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) InsertSession(ctx context.Context, session RefreshSession) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO refresh_sessions (id, owner_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		session.ID, session.OwnerID, session.TokenHash, session.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) TakeSession(ctx context.Context, tokenHash string, now time.Time) (RefreshSession, error) {
	rs := RefreshSession{TokenHash: tokenHash}
	err := s.Pool.QueryRow(ctx,
		`UPDATE refresh_sessions SET revoked_at = $2
		 WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		 RETURNING id, owner_id, expires_at`,
		tokenHash, now,
	).Scan(&rs.ID, &rs.OwnerID, &rs.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshSession{}, ErrNotFound
	}
	if err != nil {
		return RefreshSession{}, err
	}
	return rs, nil
}
