package docstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
)

const createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
  collection text NOT NULL,
  id text NOT NULL,
  seq bigserial,
  revision bigint NOT NULL DEFAULT 1,
  fields jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, id)
)`

const createDocumentsFieldsIndexSQL = `
CREATE INDEX IF NOT EXISTS documents_fields_idx
ON documents USING gin (fields jsonb_path_ops)`

const insertDocumentSQL = `
INSERT INTO documents (collection, id, fields)
VALUES ($1, $2, $3::jsonb)`

const selectDocumentSQL = `
SELECT revision, fields
FROM documents
WHERE collection = $1 AND id = $2`

const updateDocumentSQL = `
UPDATE documents
SET fields = fields || $3::jsonb,
    revision = revision + 1,
    updated_at = now()
WHERE collection = $1 AND id = $2 AND ($4::bigint = 0 OR revision = $4::bigint)
RETURNING revision`

const documentExistsSQL = `
SELECT 1 FROM documents WHERE collection = $1 AND id = $2`

const deleteDocumentSQL = `
DELETE FROM documents WHERE collection = $1 AND id = $2`

const queryDocumentsSQL = `
SELECT id, revision, fields
FROM documents
WHERE collection = $1 AND fields @> $2::jsonb
ORDER BY seq`

// PostgresStore keeps every collection in one jsonb table. Filters use
// jsonb containment so the GIN index serves equality queries.
type PostgresStore struct {
	Pool  *pgxpool.Pool
	NewID func() string
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool, NewID: nuid.Next}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createDocumentsTableSQL); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, createDocumentsFieldsIndexSQL); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) CreateDoc(ctx context.Context, collection string, fields Fields) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	id := s.NewID()
	if _, err := s.Pool.Exec(ctx, insertDocumentSQL, collection, id, string(raw)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetDoc(ctx context.Context, collection, id string) (Document, error) {
	var (
		revision int64
		raw      []byte
	)
	err := s.Pool.QueryRow(ctx, selectDocumentSQL, collection, id).Scan(&revision, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Revision: revision, Fields: fields}, nil
}

func (s *PostgresStore) UpdateDoc(ctx context.Context, collection, id string, fields Fields, ifRevision int64) (int64, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	var revision int64
	err = s.Pool.QueryRow(ctx, updateDocumentSQL, collection, id, string(raw), ifRevision).Scan(&revision)
	if err == nil {
		return revision, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// No row updated: either the document is gone or the revision moved.
	var marker int
	err = s.Pool.QueryRow(ctx, documentExistsSQL, collection, id).Scan(&marker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return 0, ErrRevisionConflict
}

func (s *PostgresStore) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.Pool.Exec(ctx, deleteDocumentSQL, collection, id)
	return err
}

func (s *PostgresStore) QueryDocs(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	filter, err := filterObject(filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, queryDocumentsSQL, collection, string(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Document, 0)
	for rows.Next() {
		var (
			doc Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Revision, &raw); err != nil {
			return nil, err
		}
		if doc.Fields, err = decodeFields(raw); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
