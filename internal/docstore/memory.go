package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nats-io/nuid"
)

type memoryDoc struct {
	seq      uint64
	revision int64
	fields   Fields
}

// MemoryStore keeps documents in process. Field values are normalized
// through JSON on write so reads match what the SQL backends return.
type MemoryStore struct {
	NewID func() string

	mu          sync.RWMutex
	seq         uint64
	collections map[string]map[string]*memoryDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		NewID:       nuid.Next,
		collections: map[string]map[string]*memoryDoc{},
	}
}

func (s *MemoryStore) CreateDoc(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized, err := normalize(fields)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	if docs == nil {
		docs = map[string]*memoryDoc{}
		s.collections[collection] = docs
	}
	id := s.NewID()
	s.seq++
	docs[id] = &memoryDoc{seq: s.seq, revision: 1, fields: normalized}
	return id, nil
}

func (s *MemoryStore) GetDoc(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Revision: doc.revision, Fields: doc.fields.clone()}, nil
}

func (s *MemoryStore) UpdateDoc(ctx context.Context, collection, id string, fields Fields, ifRevision int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	normalized, err := normalize(fields)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return 0, ErrNotFound
	}
	if ifRevision > 0 && doc.revision != ifRevision {
		return 0, ErrRevisionConflict
	}
	merged := doc.fields.clone()
	for k, v := range normalized {
		merged[k] = v
	}
	doc.fields = merged
	doc.revision++
	return doc.revision, nil
}

func (s *MemoryStore) DeleteDoc(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.collections[collection], id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) QueryDocs(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	want, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	type hit struct {
		seq uint64
		doc Document
	}
	hits := make([]hit, 0)
	for id, doc := range s.collections[collection] {
		if !matches(doc.fields, want) {
			continue
		}
		hits = append(hits, hit{seq: doc.seq, doc: Document{ID: id, Revision: doc.revision, Fields: doc.fields.clone()}})
	}
	s.mu.RUnlock()

	// insertion order, like the SQL backends
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	result := make([]Document, 0, len(hits))
	for _, h := range hits {
		result = append(result, h.doc)
	}
	return result, nil
}

func matches(fields Fields, want Fields) bool {
	for k, v := range want {
		got, ok := fields[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func normalize(fields Fields) (Fields, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

func normalizeFilters(filters []Filter) (Fields, error) {
	raw, err := filterObject(filters)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}
