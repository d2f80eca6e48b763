package docstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	var n int
	var mu sync.Mutex
	s.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("doc-%d", n)
	}
	return s
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	id, err := s.CreateDoc(ctx, "events", Fields{"title": "Standup", "isFavorited": false})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	doc, err := s.GetDoc(ctx, "events", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Revision)
	assert.Equal(t, "Standup", doc.Fields.String("title"))
	assert.False(t, doc.Fields.Bool("isFavorited"))
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := newTestStore().GetDoc(context.Background(), "events", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateMergesAndBumpsRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	id, err := s.CreateDoc(ctx, "events", Fields{"title": "a", "date": "d"})
	require.NoError(t, err)

	rev, err := s.UpdateDoc(ctx, "events", id, Fields{"title": "b"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	doc, err := s.GetDoc(ctx, "events", id)
	require.NoError(t, err)
	assert.Equal(t, "b", doc.Fields.String("title"))
	assert.Equal(t, "d", doc.Fields.String("date"))
}

func TestMemoryStore_UpdateStaleRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	id, err := s.CreateDoc(ctx, "events", Fields{"title": "a"})
	require.NoError(t, err)
	_, err = s.UpdateDoc(ctx, "events", id, Fields{"title": "b"}, 0)
	require.NoError(t, err)

	_, err = s.UpdateDoc(ctx, "events", id, Fields{"title": "c"}, 1)
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestMemoryStore_UpdateMissingDoesNotUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.UpdateDoc(ctx, "events", "gone", Fields{"title": "x"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := s.QueryDocs(ctx, "events")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	id, err := s.CreateDoc(ctx, "events", Fields{"title": "a"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDoc(ctx, "events", id))
	require.NoError(t, s.DeleteDoc(ctx, "events", id))
	_, err = s.GetDoc(ctx, "events", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_QueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	for i, owner := range []string{"u1", "u2", "u1", "u1"} {
		_, err := s.CreateDoc(ctx, "events", Fields{
			"ownerId":     owner,
			"title":       fmt.Sprintf("t%d", i),
			"isFavorited": i == 3,
		})
		require.NoError(t, err)
	}

	docs, err := s.QueryDocs(ctx, "events", Eq("ownerId", "u1"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"t0", "t2", "t3"}, []string{
		docs[0].Fields.String("title"),
		docs[1].Fields.String("title"),
		docs[2].Fields.String("title"),
	})

	favs, err := s.QueryDocs(ctx, "events", Eq("ownerId", "u1"), Eq("isFavorited", true))
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "t3", favs[0].Fields.String("title"))
}

func TestMemoryStore_NullFilterSkipsMissingFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.CreateDoc(ctx, "events", Fields{"ownerId": "u1", "location": nil})
	require.NoError(t, err)
	_, err = s.CreateDoc(ctx, "events", Fields{"ownerId": "u1"})
	require.NoError(t, err)

	docs, err := s.QueryDocs(ctx, "events", Eq("location", nil))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
}

func TestMemoryStore_QueryRejectsBadFilter(t *testing.T) {
	s := newTestStore()
	_, err := s.QueryDocs(context.Background(), "events", Eq("", "x"))
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = s.QueryDocs(context.Background(), "events", Eq("tags", []string{"a"}))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMemoryStore_ReturnedFieldsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	id, err := s.CreateDoc(ctx, "events", Fields{"title": "a"})
	require.NoError(t, err)

	doc, err := s.GetDoc(ctx, "events", id)
	require.NoError(t, err)
	doc.Fields["title"] = "mutated"

	again, err := s.GetDoc(ctx, "events", id)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Fields.String("title"))
}
