package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowdguard/veritas/internal/api"
	"github.com/crowdguard/veritas/internal/config"
	"github.com/crowdguard/veritas/internal/consensus"
	"github.com/crowdguard/veritas/internal/engine"
	"github.com/crowdguard/veritas/internal/feedback"
	"github.com/crowdguard/veritas/internal/ledger"
	"github.com/crowdguard/veritas/internal/notify"
	"github.com/crowdguard/veritas/internal/store"
	"github.com/crowdguard/veritas/internal/trust"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("veritas starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backing store: Postgres when configured, in-memory otherwise.
	var (
		voteStore    ledger.VoteStore
		trustBackend trust.Backend
		engineStore  engine.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		voteStore, trustBackend, engineStore = db, db, db
		slog.Info("database connected")
	} else {
		mem := store.NewMemory()
		voteStore, trustBackend, engineStore = mem, mem, mem
		slog.Warn("DATABASE_URL not set, running with in-memory store, state is not durable")
	}

	trustStore := trust.NewStore(trustBackend, time.Duration(cfg.TrustHalfLifeDays)*24*time.Hour)
	voteLedger := ledger.New(voteStore, trustStore, cfg.ConfirmThreshold, cfg.DisputeThreshold, slog.Default())
	calculator := consensus.NewCalculator(cfg.Quorum)
	feedbackEngine := feedback.New(trustStore, slog.Default())

	// NATS: the client retries failed connects, so an absent broker only
	// delays notifications rather than blocking startup.
	publisher, err := notify.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	eng := engine.New(voteLedger, calculator, feedbackEngine, engineStore, publisher, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.AdminToken, eng, trustStore)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("veritas ready", "port", cfg.Port, "quorum", cfg.Quorum)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("veritas stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
