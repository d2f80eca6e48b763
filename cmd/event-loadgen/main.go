package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/event-tracker/project/internal/platform/env"
	"github.com/event-tracker/project/internal/platform/logging"
	"github.com/event-tracker/project/internal/platform/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type config struct {
	APIBase                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

type eventResponse struct {
	ID string `json:"id"`
}

type simulatedUser struct {
	Index       int
	Username    string
	AccessToken string

	mu     sync.Mutex
	events []string
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client
	logger *zap.Logger

	requests *prometheus.CounterVec
	actions  *prometheus.CounterVec
	active   prometheus.Gauge

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := logging.New(env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Users <= 0 || cfg.SetupConcurrency <= 0 {
		logger.Fatal("LOADGEN_USERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	registry := metrics.NewRegistry()
	r := newRunner(cfg, logger, registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	if err := r.waitForReady(ctx); err != nil {
		logger.Fatal("event-api not ready", zap.Error(err))
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		logger.Fatal("failed to initialize any users")
	}
	logger.Info("load generator initialized",
		zap.Int("users", len(users)),
		zap.Duration("duration", cfg.Duration),
		zap.Float64("rate_per_user", cfg.ActionsPerUserPerSecond),
	)

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}
	<-ctx.Done()
	wg.Wait()

	logger.Info("load test complete",
		zap.Int64("success_requests", r.requestsSuccess.Load()),
		zap.Int64("error_requests", r.requestsError.Load()),
	)
}

func loadConfig() config {
	return config{
		APIBase:                 strings.TrimRight(env.String("LOADGEN_API_BASE", "http://localhost:8080"), "/"),
		Users:                   env.Int("LOADGEN_USERS", 50),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 10),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 5*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 10*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.5),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
	}
}

func newRunner(cfg config, logger *zap.Logger, reg prometheus.Registerer) *runner {
	r := &runner{
		cfg:    cfg,
		runID:  strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_loadgen_requests_total",
			Help: "HTTP requests sent by the load generator.",
		}, []string{"endpoint", "status", "outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_loadgen_actions_total",
			Help: "Simulated user actions.",
		}, []string{"action", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "event_loadgen_virtual_users",
			Help: "Virtual users currently sending actions.",
		}),
	}
	reg.MustRegister(r.requests, r.actions, r.active)
	return r
}

func (r *runner) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	var (
		mu    sync.Mutex
		users []*simulatedUser
		wg    sync.WaitGroup
	)
	for i := 0; i < r.cfg.Users; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			user, err := r.setupUser(ctx, idx)
			if err != nil {
				r.logger.Warn("user setup failed", zap.Int("index", idx), zap.Error(err))
				return
			}
			mu.Lock()
			users = append(users, user)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return users
}

func (r *runner) setupUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{Index: idx, Username: fmt.Sprintf("load-%s-%04d", r.runID, idx)}
	creds := map[string]string{"username": user.Username, "password": r.cfg.Password}

	var auth authResponse
	status, err := r.requestJSON(ctx, "register", http.MethodPost, "/api/v1/auth/register", "", creds, &auth, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		if _, err := r.requestJSON(ctx, "login", http.MethodPost, "/api/v1/auth/login", "", creds, &auth, http.StatusOK); err != nil {
			return nil, err
		}
	}
	if auth.AccessToken == "" {
		return nil, fmt.Errorf("empty access token for %s", user.Username)
	}
	user.AccessToken = auth.AccessToken
	return user, nil
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.active.Inc()
	defer r.active.Dec()

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 25*time.Millisecond)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eventID, has := user.randomEvent(rng)
			r.runAction(ctx, user, pickAction(rng.Float64(), has), eventID, rng)
		}
	}
}

// pickAction maps a roll in [0,1) to the next action. Toggles get the
// largest share.
func pickAction(roll float64, hasEvent bool) string {
	switch {
	case !hasEvent || roll < 0.30:
		return "create"
	case roll < 0.65:
		return "toggle"
	case roll < 0.80:
		return "update"
	case roll < 0.95:
		return "list"
	default:
		return "delete"
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, action, eventID string, rng *rand.Rand) {
	var err error
	switch action {
	case "create":
		var ev eventResponse
		_, err = r.requestJSON(ctx, "create", http.MethodPost, "/api/v1/events", user.AccessToken, map[string]string{
			"title":       fmt.Sprintf("Load event %d", rng.Intn(1_000_000)),
			"description": "generated",
			"date":        time.Now().UTC().Format("2006-01-02"),
		}, &ev, http.StatusCreated)
		if err == nil && ev.ID != "" {
			user.addEvent(ev.ID)
		}
	case "toggle":
		_, err = r.requestJSON(ctx, "toggle", http.MethodPost, "/api/v1/events/"+eventID+"/favorite", user.AccessToken, nil, nil, http.StatusOK)
	case "update":
		_, err = r.requestJSON(ctx, "update", http.MethodPatch, "/api/v1/events/"+eventID, user.AccessToken, map[string]string{
			"title": fmt.Sprintf("Updated event %d", rng.Intn(1_000_000)),
		}, nil, http.StatusOK)
	case "list":
		_, err = r.requestJSON(ctx, "list", http.MethodGet, "/api/v1/events", user.AccessToken, nil, nil, http.StatusOK)
	case "delete":
		_, err = r.requestJSON(ctx, "delete", http.MethodDelete, "/api/v1/events/"+eventID, user.AccessToken, nil, nil, http.StatusOK)
		if err == nil {
			user.removeEvent(eventID)
		}
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.actions.WithLabelValues(action, outcome).Inc()
}

func (r *runner) requestJSON(ctx context.Context, endpoint, method, path, token string, payload, out any, expected ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.record(endpoint, 0, false)
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	ok := err == nil && isExpectedStatus(resp.StatusCode, expected)
	r.record(endpoint, resp.StatusCode, ok)
	if err != nil {
		return resp.StatusCode, err
	}
	if !ok {
		return resp.StatusCode, fmt.Errorf("%s: unexpected status=%d body=%s", endpoint, resp.StatusCode, truncate(string(raw), 240))
	}
	if out != nil && len(raw) > 0 {
		return resp.StatusCode, json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}

func (r *runner) record(endpoint string, status int, ok bool) {
	outcome := "success"
	if ok {
		r.requestsSuccess.Add(1)
	} else {
		outcome = "error"
		r.requestsError.Add(1)
	}
	r.requests.WithLabelValues(endpoint, strconv.Itoa(status), outcome).Inc()
}

func (u *simulatedUser) addEvent(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, id)
}

func (u *simulatedUser) removeEvent(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, existing := range u.events {
		if existing == id {
			u.events = append(u.events[:i], u.events[i+1:]...)
			return
		}
	}
}

func (u *simulatedUser) randomEvent(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.events) == 0 {
		return "", false
	}
	return u.events[rng.Intn(len(u.events))], true
}

func isExpectedStatus(status int, expected []int) bool {
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
