package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nuid"
)

const createSQLiteDocumentsSQL = `
CREATE TABLE IF NOT EXISTS documents (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  collection TEXT NOT NULL,
  id TEXT NOT NULL,
  revision INTEGER NOT NULL DEFAULT 1,
  fields TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (collection, id)
)`

// SQLiteStore is the single-file backend used for local runs. Merges use
// json_patch and filters use json_extract from the JSON1 functions.
type SQLiteStore struct {
	DB    *sql.DB
	NewID func() string
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer keeps conditional updates linear.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{DB: db, NewID: nuid.Next}, nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, createSQLiteDocumentsSQL)
	return err
}

func (s *SQLiteStore) CreateDoc(ctx context.Context, collection string, fields Fields) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	id := s.NewID()
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields) VALUES (?, ?, json(?))`,
		collection, id, string(raw),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) GetDoc(ctx context.Context, collection, id string) (Document, error) {
	var (
		revision int64
		raw      string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT revision, fields FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&revision, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	fields, err := decodeFields([]byte(raw))
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Revision: revision, Fields: fields}, nil
}

func (s *SQLiteStore) UpdateDoc(ctx context.Context, collection, id string, fields Fields, ifRevision int64) (int64, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	var revision int64
	err = s.DB.QueryRowContext(ctx,
		`UPDATE documents
		 SET fields = json_patch(fields, ?),
		     revision = revision + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE collection = ? AND id = ? AND (? = 0 OR revision = ?)
		 RETURNING revision`,
		string(raw), collection, id, ifRevision, ifRevision,
	).Scan(&revision)
	if err == nil {
		return revision, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var marker int
	err = s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&marker)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return 0, ErrRevisionConflict
}

func (s *SQLiteStore) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	return err
}

func (s *SQLiteStore) QueryDocs(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, revision, fields FROM documents WHERE collection = ?`)
	args := []any{collection}
	for _, f := range filters {
		if f.Value == nil {
			// json_extract cannot tell an explicit null from a missing
			// key; json_type returns SQL NULL only for the latter.
			sb.WriteString(` AND json_type(fields, '$."' || ? || '"') = 'null'`)
			args = append(args, f.Field)
			continue
		}
		// json_extract yields 1/0 for JSON booleans, which is how the
		// driver binds Go bools.
		sb.WriteString(` AND json_extract(fields, '$."' || ? || '"') IS ?`)
		args = append(args, f.Field, f.Value)
	}
	sb.WriteString(` ORDER BY seq`)

	rows, err := s.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Document, 0)
	for rows.Next() {
		var (
			doc Document
			raw string
		)
		if err := rows.Scan(&doc.ID, &doc.Revision, &raw); err != nil {
			return nil, err
		}
		if doc.Fields, err = decodeFields([]byte(raw)); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
