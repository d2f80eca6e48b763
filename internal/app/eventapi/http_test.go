package eventapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/event-tracker/project/internal/app/events"
	"github.com/event-tracker/project/internal/app/identity"
	"github.com/event-tracker/project/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("connection refused")

// flakyStore fails deletes or queries in one collection on demand.
type flakyStore struct {
	*docstore.MemoryStore
	failDelete string
	failQuery  string
}

func (s *flakyStore) DeleteDoc(ctx context.Context, collection, id string) error {
	if collection == s.failDelete {
		return errStoreDown
	}
	return s.MemoryStore.DeleteDoc(ctx, collection, id)
}

func (s *flakyStore) QueryDocs(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if collection == s.failQuery {
		return nil, errStoreDown
	}
	return s.MemoryStore.QueryDocs(ctx, collection, filters...)
}

type testServer struct {
	t      *testing.T
	store  *flakyStore
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := &flakyStore{MemoryStore: docstore.NewMemoryStore()}
	repo := events.NewRepository(store)
	identitySvc := identity.NewService(identity.NewMemoryStore(), identity.NewTokenManager("test-secret", 0))
	h := NewHandler(repo, identitySvc, "http://localhost:3000", nil)
	return &testServer{t: t, store: store, router: h.Router()}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(username string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/register", "", credentialsRequest{Username: username, Password: "password123"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp identity.Session
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (s *testServer) create(token string) events.Event {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/events", token, events.CreateRequest{
		Title: "Standup", Description: "Daily sync", Date: "2024-05-01",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var ev events.Event
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &ev))
	return ev
}

func decodeEvents(t *testing.T, rec *httptest.ResponseRecorder) []events.Event {
	t.Helper()
	var list []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	return list
}

// newSQLiteServer wires events and accounts to one sqlite file the way
// the sqlite driver does in cmd/event-api.
func newSQLiteServer(t *testing.T, path string) (*testServer, func()) {
	t.Helper()
	ctx := context.Background()
	db, err := docstore.OpenSQLite(path)
	require.NoError(t, err)
	accounts := identity.NewSQLiteStore(db.DB)
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("sqlite3 driver requires cgo")
		}
		require.NoError(t, err)
	}
	require.NoError(t, accounts.EnsureSchema(ctx))

	identitySvc := identity.NewService(accounts, identity.NewTokenManager("test-secret", 0))
	h := NewHandler(events.NewRepository(db), identitySvc, "http://localhost:3000", nil)
	return &testServer{t: t, router: h.Router()}, func() { _ = db.Close() }
}

func TestSQLiteEventsReachableAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	srv, closeDB := newSQLiteServer(t, path)
	ev := srv.create(srv.register("alice"))
	closeDB()

	srv, closeDB = newSQLiteServer(t, path)
	defer closeDB()
	rec := srv.do(http.MethodPost, "/api/v1/auth/login", "", credentialsRequest{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session identity.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = srv.do(http.MethodGet, "/api/v1/events", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeEvents(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, ev.ID, list[0].ID)
}

func TestEventLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register("alice")

	ev := srv.create(token)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.IsFavorited)

	rec := srv.do(http.MethodGet, "/api/v1/events", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeEvents(t, rec), 1)

	rec = srv.do(http.MethodPost, "/api/v1/events/"+ev.ID+"/favorite", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var toggled events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	assert.True(t, toggled.IsFavorited)

	rec = srv.do(http.MethodGet, "/api/v1/events/favorites", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	favs := decodeEvents(t, rec)
	require.Len(t, favs, 1)
	assert.Equal(t, ev.ID, favs[0].ID)

	rec = srv.do(http.MethodPatch, "/api/v1/events/"+ev.ID, token, map[string]string{"date": "2024-05-02"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "2024-05-02", updated.Date)
	assert.Equal(t, "Standup", updated.Title)
	assert.True(t, updated.IsFavorited)

	rec = srv.do(http.MethodGet, "/api/v1/events/view", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeEvents(t, rec)
	require.Len(t, view, 1)
	assert.Equal(t, updated, view[0])

	rec = srv.do(http.MethodPost, "/api/v1/favorites/reconcile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report events.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, events.ReconcileReport{Checked: 1}, report)

	rec = srv.do(http.MethodDelete, "/api/v1/events/"+ev.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &del))
	assert.True(t, del.Deleted)
	assert.Empty(t, del.Warning)

	rec = srv.do(http.MethodGet, "/api/v1/events", token, nil)
	assert.Empty(t, decodeEvents(t, rec))
}

func TestEventsRequireBearerToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/v1/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodGet, "/api/v1/events", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateValidationIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register("alice")

	rec := srv.do(http.MethodPost, "/api/v1/events", token, events.CreateRequest{Title: "  ", Description: "d", Date: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "title")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	raw := httptest.NewRecorder()
	srv.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestOtherUsersEventIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.register("alice")
	bob := srv.register("bob")
	ev := srv.create(alice)

	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodPost, "/api/v1/events/"+ev.ID+"/favorite", bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodDelete, "/api/v1/events/"+ev.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodPatch, "/api/v1/events/missing", alice, map[string]string{"title": "x"}).Code)

	rec := srv.do(http.MethodGet, "/api/v1/events", bob, nil)
	assert.Empty(t, decodeEvents(t, rec))
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register("alice")
	srv.store.failQuery = events.CollectionEvents

	rec := srv.do(http.MethodGet, "/api/v1/events", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), events.ErrStoreUnavailable.Error())
}

func TestPartialDeleteReportsWarning(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register("alice")
	ev := srv.create(token)
	require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/v1/events/"+ev.ID+"/favorite", token, nil).Code)

	srv.store.failDelete = events.CollectionFavorites
	rec := srv.do(http.MethodDelete, "/api/v1/events/"+ev.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &del))
	assert.True(t, del.Deleted)
	assert.NotEmpty(t, del.Warning)

	rec = srv.do(http.MethodGet, "/api/v1/events", token, nil)
	assert.Empty(t, decodeEvents(t, rec))
}

func TestAuthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.register("alice")

	rec := srv.do(http.MethodPost, "/api/v1/auth/register", "", credentialsRequest{Username: "ALICE", Password: "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/auth/login", "", credentialsRequest{Username: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/auth/login", "", credentialsRequest{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var session identity.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed identity.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))

	rec = srv.do(http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSLoopbackOrigin(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "http://127.0.0.1:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionUserID(t *testing.T) {
	_, ok := SessionUserID(context.Background())
	assert.False(t, ok)
}
