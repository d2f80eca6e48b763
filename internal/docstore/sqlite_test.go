package docstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("sqlite3 driver requires cgo")
		}
		require.NoError(t, err)
	}
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	id, err := s.CreateDoc(ctx, "events", Fields{"ownerId": "u1", "title": "Standup", "isFavorited": false})
	require.NoError(t, err)

	rev, err := s.UpdateDoc(ctx, "events", id, Fields{"isFavorited": true}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	doc, err := s.GetDoc(ctx, "events", id)
	require.NoError(t, err)
	assert.True(t, doc.Fields.Bool("isFavorited"))
	assert.Equal(t, "Standup", doc.Fields.String("title"))

	_, err = s.UpdateDoc(ctx, "events", id, Fields{"isFavorited": false}, 1)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	favs, err := s.QueryDocs(ctx, "events", Eq("ownerId", "u1"), Eq("isFavorited", true))
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, id, favs[0].ID)

	require.NoError(t, s.DeleteDoc(ctx, "events", id))
	_, err = s.UpdateDoc(ctx, "events", id, Fields{"title": "x"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_NullFilterSkipsMissingFields(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	explicit, err := s.CreateDoc(ctx, "events", Fields{"ownerId": "u1", "location": nil})
	require.NoError(t, err)
	_, err = s.CreateDoc(ctx, "events", Fields{"ownerId": "u1"})
	require.NoError(t, err)
	_, err = s.CreateDoc(ctx, "events", Fields{"ownerId": "u1", "location": "Room 4"})
	require.NoError(t, err)

	docs, err := s.QueryDocs(ctx, "events", Eq("ownerId", "u1"), Eq("location", nil))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, explicit, docs[0].ID)
}
