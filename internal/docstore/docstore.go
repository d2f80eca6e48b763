// Package docstore is a small schema-less document store client. Documents
// live in named collections, are addressed by a generated id, and carry a
// revision that conditional updates compare against.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrRevisionConflict = errors.New("document revision conflict")
	ErrInvalidFilter    = errors.New("invalid filter")
)

// Fields is the decoded body of a document. Values are JSON-compatible
// (string, bool, float64, nil, nested maps/slices).
type Fields map[string]any

type Document struct {
	ID       string
	Revision int64
	Fields   Fields
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Store interface {
	CreateDoc(ctx context.Context, collection string, fields Fields) (string, error)
	GetDoc(ctx context.Context, collection, id string) (Document, error)
	// UpdateDoc merges fields into an existing document. A positive
	// ifRevision makes the write conditional on the stored revision.
	UpdateDoc(ctx context.Context, collection, id string, fields Fields, ifRevision int64) (int64, error)
	// DeleteDoc removes a document; deleting a missing document is a no-op.
	DeleteDoc(ctx context.Context, collection, id string) error
	// QueryDocs returns documents matching every filter, in insertion order.
	QueryDocs(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// String returns a string field or "" when absent or of another type.
func (f Fields) String(key string) string {
	v, _ := f[key].(string)
	return v
}

// Bool returns a bool field or false when absent or of another type.
func (f Fields) Bool(key string) bool {
	v, _ := f[key].(bool)
	return v
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Field == "" {
			return ErrInvalidFilter
		}
		switch f.Value.(type) {
		case string, bool, int, int64, float64, nil:
		default:
			return ErrInvalidFilter
		}
	}
	return nil
}

func filterObject(filters []Filter) ([]byte, error) {
	obj := make(map[string]any, len(filters))
	for _, f := range filters {
		obj[f.Field] = f.Value
	}
	return json.Marshal(obj)
}

func decodeFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
