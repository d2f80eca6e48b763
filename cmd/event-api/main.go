package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/event-tracker/project/internal/app/eventapi"
	"github.com/event-tracker/project/internal/app/events"
	"github.com/event-tracker/project/internal/app/identity"
	"github.com/event-tracker/project/internal/docstore"
	"github.com/event-tracker/project/internal/platform/config"
	"github.com/event-tracker/project/internal/platform/dbpool"
	"github.com/event-tracker/project/internal/platform/logging"
	"github.com/event-tracker/project/internal/platform/metrics"
	"github.com/event-tracker/project/internal/platform/natsutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type readinessCheck func(ctx context.Context) error

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("event-api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checks []readinessCheck
	var accounts identity.Store = identity.NewMemoryStore()

	var store docstore.Store
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := dbpool.New(runCtx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgStore := docstore.NewPostgresStore(pool)
		pgAccounts := identity.NewPostgresStore(pool)
		waitLog := func(err error) { logger.Info("waiting for postgres schema", zap.Error(err)) }
		if err := dbpool.WaitReady(runCtx, 30*time.Second, waitLog, pgStore.EnsureSchema, pgAccounts.EnsureSchema); err != nil {
			return err
		}
		store, accounts = pgStore, pgAccounts
		checks = append(checks, postgresCheck(pool))
	case config.StoreSQLite:
		sqliteStore, err := docstore.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		sqliteAccounts := identity.NewSQLiteStore(sqliteStore.DB)
		if err := sqliteStore.EnsureSchema(runCtx); err != nil {
			return err
		}
		if err := sqliteAccounts.EnsureSchema(runCtx); err != nil {
			return err
		}
		store, accounts = sqliteStore, sqliteAccounts
	default:
		store = docstore.NewMemoryStore()
	}

	registry := metrics.NewRegistry()
	repo := events.NewRepository(store)
	repo.Logger = logger.Named("events")
	repo.Metrics = metrics.NewRecorder(registry)

	if cfg.NATS.Enabled {
		client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "event-api", 20*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		repo.Publish = natsutil.JetStreamPublisher{JS: client.JS}.Publish
		checks = append(checks, natsCheck(client.Conn))
	}

	identitySvc := identity.NewService(accounts, identity.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL))
	handler := eventapi.NewHandler(repo, identitySvc, cfg.AllowedOrigin, logger.Named("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("event-api listening",
		zap.String("addr", cfg.Listen),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("nats", cfg.NATS.Enabled),
	)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func postgresCheck(pool *pgxpool.Pool) readinessCheck {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		return nil
	}
}

func natsCheck(conn *nats.Conn) readinessCheck {
	return func(context.Context) error {
		if conn.Status() != nats.CONNECTED {
			return fmt.Errorf("nats is not connected: %s", conn.Status().String())
		}
		return nil
	}
}
