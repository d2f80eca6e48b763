package changesink

import (
	"context"

	"github.com/event-tracker/project/internal/contracts"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createChangesTableSQL = `
CREATE TABLE IF NOT EXISTS event_changes (
  change_id text PRIMARY KEY,
  event_id text NOT NULL,
  owner_id text NOT NULL,
  change_type text NOT NULL,
  title text NOT NULL DEFAULT '',
  is_favorited boolean NOT NULL DEFAULT false,
  shard_id integer NOT NULL,
  stream_seq bigint NOT NULL DEFAULT 0,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createChangesOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS event_changes_owner_idx
ON event_changes (owner_id, occurred_at)`

const insertChangeSQL = `
INSERT INTO event_changes (
  change_id, event_id, owner_id, change_type, title, is_favorited,
  shard_id, stream_seq, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (change_id) DO NOTHING
`

type ChangeRepository struct {
	Pool *pgxpool.Pool
}

func NewChangeRepository(pool *pgxpool.Pool) *ChangeRepository {
	return &ChangeRepository{Pool: pool}
}

func (r *ChangeRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createChangesTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createChangesOwnerIndexSQL); err != nil {
		return err
	}
	return nil
}

// InsertChange is idempotent on change id, so redelivered messages are
// harmless.
func (r *ChangeRepository) InsertChange(ctx context.Context, change contracts.EventChange, streamSeq uint64) error {
	_, err := r.Pool.Exec(ctx, insertChangeSQL,
		change.ChangeID,
		change.EventID,
		change.OwnerID,
		change.ChangeType,
		change.Title,
		change.IsFavorited,
		change.ShardID,
		int64(streamSeq),
		change.OccurredAt,
	)
	return err
}
