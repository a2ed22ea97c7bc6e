// Package main provides the HTTP API server for quizforge.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/server"
	"github.com/quizforge/quizforge/internal/service"
)

const staleSweepInterval = time.Minute

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	logger.Info("starting quizforge-server",
		"addr", cfg.ListenAddr,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := db.NewClient(connCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("QUIZFORGE_WIPE_DB") == "true" {
		if err := store.WipeData(ctx); err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Info("database wiped")
	}

	if err := store.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	topics, err := db.DefaultTopics()
	if err != nil {
		logger.Error("failed to load topic vocabulary", "error", err)
		os.Exit(1)
	}
	if err := store.SeedTopics(ctx, topics); err != nil {
		logger.Error("failed to seed topics", "error", err)
		os.Exit(1)
	}

	model, err := llm.NewModel(cfg)
	if err != nil {
		logger.Error("failed to init model", "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		logger.Error("failed to init embedder", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	runner := service.NewRunner(store, model, embedder, cfg, collector, logger)
	runService := service.NewRunService(ctx, store, runner, cfg, cfg.LLMModel, logger)

	// Sweep runs orphaned by a crash or shutdown back to failed_timeout.
	go func() {
		ticker := time.NewTicker(staleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.ClearStaleRuns(ctx, cfg.GenerationTimeoutBase)
				if err != nil {
					logger.Warn("stale run sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("cleared stale runs", "count", n)
				}
			}
		}
	}()

	srv := server.New(store, runService, collector, cfg.ListenAddr, logger)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down, waiting for active runs to settle")
	runService.Wait()
	logger.Info("server stopped")
}
