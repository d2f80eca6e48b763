package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/event-tracker/project/internal/platform/env"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Options struct {
	MinConns        int
	MaxConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinConns:        2,
		MaxConns:        20,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		HealthCheck:     30 * time.Second,
	}
}

// OptionsFromEnv reads DB_* overrides on top of DefaultOptions.
func OptionsFromEnv() Options {
	def := DefaultOptions()
	opts := Options{
		MinConns:        env.Int("DB_MIN_CONNS", def.MinConns),
		MaxConns:        env.Int("DB_MAX_CONNS", def.MaxConns),
		MaxConnLifetime: env.Duration("DB_MAX_CONN_LIFETIME", def.MaxConnLifetime),
		MaxConnIdleTime: env.Duration("DB_MAX_CONN_IDLE_TIME", def.MaxConnIdleTime),
		HealthCheck:     env.Duration("DB_HEALTH_CHECK_PERIOD", def.HealthCheck),
	}
	if opts.MinConns < 0 {
		opts.MinConns = def.MinConns
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = def.MaxConns
	}
	if opts.MinConns > opts.MaxConns {
		opts.MinConns = opts.MaxConns
	}
	return opts
}

func (o Options) apply(cfg *pgxpool.Config) {
	cfg.MinConns = int32(o.MinConns)
	cfg.MaxConns = int32(o.MaxConns)
	cfg.MaxConnLifetime = o.MaxConnLifetime
	cfg.MaxConnIdleTime = o.MaxConnIdleTime
	cfg.HealthCheckPeriod = o.HealthCheck
}

func New(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewWithOptions(ctx, databaseURL, OptionsFromEnv())
}

func NewWithOptions(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	opts.apply(cfg)
	return pgxpool.NewWithConfig(ctx, cfg)
}

// WaitReady runs the steps in order until they all succeed or the timeout
// passes. Each attempt gets its own short deadline.
func WaitReady(ctx context.Context, timeout time.Duration, onRetry func(error), steps ...func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = nil
		for _, step := range steps {
			attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			lastErr = step(attemptCtx)
			cancel()
			if lastErr != nil {
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if onRetry != nil {
			onRetry(lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
