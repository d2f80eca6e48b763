package main

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPickAction(t *testing.T) {
	assert.Equal(t, "create", pickAction(0.99, false))
	assert.Equal(t, "create", pickAction(0.10, true))
	assert.Equal(t, "toggle", pickAction(0.50, true))
	assert.Equal(t, "update", pickAction(0.70, true))
	assert.Equal(t, "list", pickAction(0.90, true))
	assert.Equal(t, "delete", pickAction(0.99, true))
}

func TestSimulatedUserEvents(t *testing.T) {
	u := &simulatedUser{}
	rng := rand.New(rand.NewSource(1))
	_, ok := u.randomEvent(rng)
	assert.False(t, ok)

	u.addEvent("a")
	u.addEvent("b")
	u.removeEvent("a")
	id, ok := u.randomEvent(rng)
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestRequestJSONRecordsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/events" && r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"evt-1"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	r := newRunner(config{APIBase: srv.URL, RequestTimeout: time.Second}, zap.NewNop(), reg)
	u := &simulatedUser{AccessToken: "tok"}

	r.runAction(context.Background(), u, "create", "", rand.New(rand.NewSource(1)))
	id, ok := u.randomEvent(rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Equal(t, "evt-1", id)

	r.runAction(context.Background(), u, "list", "", rand.New(rand.NewSource(1)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("list", "error")))
	assert.Equal(t, int64(1), r.requestsError.Load())
}
