package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/event-tracker/project/internal/app/changesink"
	"github.com/event-tracker/project/internal/messaging"
	"github.com/event-tracker/project/internal/platform/dbpool"
	"github.com/event-tracker/project/internal/platform/env"
	"github.com/event-tracker/project/internal/platform/logging"
	"github.com/event-tracker/project/internal/platform/natsutil"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(ctx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		logger.Fatal("open postgres pool", zap.Error(err))
	}
	defer pool.Close()

	repository := changesink.NewChangeRepository(pool)
	waitLog := func(err error) { logger.Info("waiting for postgres readiness", zap.Error(err)) }
	if err := dbpool.WaitReady(ctx, 30*time.Second, waitLog, pool.Ping, repository.EnsureSchema); err != nil {
		logger.Fatal("postgres not ready", zap.Error(err))
	}
	service := changesink.NewService(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), "change-sink", 20*time.Second)
	if err != nil {
		logger.Fatal("connect jetstream", zap.Error(err))
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe(messaging.ChangesSubject, "change-sink", func(msg *nats.Msg) {
		var streamSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			streamSeq = meta.Sequence.Stream
		}

		insertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := service.Handle(insertCtx, msg.Subject, msg.Data, streamSeq); err != nil {
			if errors.Is(err, changesink.ErrInvalidChangePayload) || errors.Is(err, changesink.ErrUnsupportedChangeType) {
				logger.Warn("discarding change", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				return
			}
			logger.Error("change persistence failed", zap.Uint64("stream_seq", streamSeq), zap.Error(err))
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		logger.Fatal("subscribe", zap.Error(err))
	}

	logger.Info("change-sink listening", zap.String("subject", sub.Subject))
	<-ctx.Done()
	_ = sub.Drain()
}
