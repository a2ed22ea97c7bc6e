package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/server"
	"github.com/quizforge/quizforge/internal/service"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quizforge server",
	Long: `Run the HTTP API server in the foreground. Equivalent to the
standalone quizforge-server binary.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default QUIZFORGE_LISTEN_ADDR or :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

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
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close(context.Background())

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	topics, err := db.DefaultTopics()
	if err != nil {
		return fmt.Errorf("load topic vocabulary: %w", err)
	}
	if err := store.SeedTopics(ctx, topics); err != nil {
		return fmt.Errorf("seed topics: %w", err)
	}

	model, err := llm.NewModel(cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}

	collector := metrics.NewCollector()
	runner := service.NewRunner(store, model, embedder, cfg, collector, logger)
	runService := service.NewRunService(ctx, store, runner, cfg, cfg.LLMModel, logger)

	// Sweep runs orphaned by a crash or shutdown back to failed_timeout.
	go staleSweep(ctx, store, cfg, logger)

	srv := server.New(store, runService, collector, cfg.ListenAddr, logger)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("waiting for active runs to settle")
	runService.Wait()
	return nil
}

func staleSweep(ctx context.Context, store *db.Client, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
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
}
