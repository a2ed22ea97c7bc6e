package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quizforge/quizforge/internal/chunker"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/models"
	"github.com/quizforge/quizforge/internal/outline"
	"github.com/quizforge/quizforge/internal/rag"
)

// failureReasonMax caps persisted failure and partial reason strings.
const failureReasonMax = 512

// persistTimeout bounds terminal-state writes that must survive the
// run's own deadline expiring.
const persistTimeout = 30 * time.Second

// errRunStopped aborts the pipeline when the persisted run status left
// generating mid-flight (cancellation or an external sweep).
var errRunStopped = errors.New("run no longer generating")

// RunStore is the persistence surface the orchestrator needs.
// *db.Client satisfies it.
type RunStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetRun(ctx context.Context, id string) (*models.GenerationRun, error)
	MarkRunGenerating(ctx context.Context, id string, timeoutSec int) (*models.GenerationRun, error)
	TouchRun(ctx context.Context, id string) error
	SetRunProgress(ctx context.Context, id string, questionsGenerated, workersCompleted int) error
	FinishRun(ctx context.Context, id string, result db.RunResult) (*models.GenerationRun, error)
	FailRun(ctx context.Context, id string, status models.RunStatus, reason string) (*models.GenerationRun, error)
	TopicSlugs(ctx context.Context) ([]string, error)
}

// RunnerModel is the LLM surface the pipeline consumes.
type RunnerModel interface {
	GeneratorModel
	CritiqueModel
	outline.Summarizer
}

// Runner owns the end-to-end generation pipeline for a run: chunking,
// the outline and retrieval gates, the candidate fan-out, the critique
// pass, selection, and the terminal-state transition. At most
// cfg.MaxConcurrentRuns pipelines execute at once; further runs queue
// in pending on the semaphore.
type Runner struct {
	store    RunStore
	model    RunnerModel
	embedder rag.Embedder // nil disables retrieval
	cfg      config.Config
	sem      *semaphore.Weighted
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewRunner(store RunStore, model RunnerModel, embedder rag.Embedder, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Runner{
		store:    store,
		model:    model,
		embedder: embedder,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(maxRuns),
		metrics:  collector,
		logger:   logger,
	}
}

// Execute runs the full pipeline for a pending run and blocks until
// the run reaches a terminal state. It returns an error only when the
// outcome could not be recorded; pipeline failures are absorbed into
// the run's terminal status.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire run slot: %w", err)
	}
	defer r.sem.Release(1)

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != models.RunPending {
		// Cancelled or reclaimed while queued on the semaphore.
		r.logger.Info("run no longer pending, skipping",
			"run", runID, "status", run.Status)
		return nil
	}

	text, failReason, err := r.loadText(ctx, run)
	if err != nil {
		return err
	}
	if failReason != "" {
		return r.fail(runID, models.RunFailed, failReason)
	}

	chunks, err := chunker.Split(text, chunker.Config{
		Mode:            chunker.Mode(r.cfg.ChunkMode),
		Size:            r.cfg.ChunkSize,
		OverlapFraction: r.cfg.ChunkOverlapFraction,
	}, r.logger)
	if err != nil {
		return r.fail(runID, models.RunFailed, fmt.Sprintf("chunking failed: %v", err))
	}
	if len(chunks) == 0 {
		return r.fail(runID, models.RunFailed, "document produced no text chunks")
	}

	timeout := r.cfg.RunTimeout(len(chunks))
	run, err = r.store.MarkRunGenerating(ctx, runID, int(timeout/time.Second))
	if err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			r.logger.Info("run left pending before start, skipping", "run", runID)
			return nil
		}
		return fmt.Errorf("mark run generating: %w", err)
	}

	r.logger.Info("run started", "run", runID,
		"chunks", len(chunks), "target", run.TargetQuestions, "timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = r.pipeline(runCtx, run, runID, chunks)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errRunStopped):
		// Cancellation wins: nothing is persisted for this run.
		r.logger.Info("run stopped externally, discarding results", "run", runID)
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return r.fail(runID, models.RunFailedTimeout,
			fmt.Sprintf("Timed out after %s", timeout))
	case ctx.Err() != nil:
		// Process shutdown. Leave the run for the stale sweep.
		return err
	default:
		return r.fail(runID, models.RunFailed, err.Error())
	}
}

// loadText resolves the run's document text. A non-empty failReason is
// a user-visible validation failure rather than an internal error.
func (r *Runner) loadText(ctx context.Context, run *models.GenerationRun) (text, failReason string, err error) {
	docID, err := models.RecordIDString(run.Document)
	if err != nil {
		return "", "", fmt.Errorf("resolve document id: %w", err)
	}
	doc, err := r.store.GetDocument(ctx, docID)
	if err != nil {
		return "", "", fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return "", "Document not found", nil
	}
	if doc.ExtractedText == nil || *doc.ExtractedText == "" {
		return "", "Document has no extracted text", nil
	}
	if words := models.CountWords(*doc.ExtractedText); words < r.cfg.MinExtractionWords {
		return "", fmt.Sprintf("Document too short: %d words extracted, minimum is %d",
			words, r.cfg.MinExtractionWords), nil
	}
	return *doc.ExtractedText, "", nil
}

// pipeline runs the generating phase. Elapsed time and the persisted
// run status are checked at every suspension boundary, so cancellation
// and timeout take effect between LLM calls, not only at the end.
func (r *Runner) pipeline(ctx context.Context, run *models.GenerationRun, runID string, chunks []chunker.Chunk) error {
	var usage llm.Usage

	checkpoint := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur, err := r.store.GetRun(ctx, runID)
		if err != nil {
			// Status unreadable: keep going, the final persistence
			// transaction re-checks it anyway.
			r.logger.Warn("checkpoint status read failed", "run", runID, "error", err)
			return nil
		}
		if cur.Status != models.RunGenerating {
			return fmt.Errorf("%w: status is %s", errRunStopped, cur.Status)
		}
		if err := r.store.TouchRun(ctx, runID); err != nil {
			r.logger.Warn("liveness touch failed", "run", runID, "error", err)
		}
		return nil
	}

	// The outline and the retrieval index share one gate: both only pay
	// off on long documents, so short ones skip every extra LLM call.
	var outlineText string
	builder := outline.NewBuilder(r.model, r.cfg.OutlineChunkThreshold, r.cfg.OutlineMaxChunks, r.logger)
	longDocument := builder.ShouldBuild(r.cfg.UseGlobalOutline, len(chunks))
	if longDocument {
		var ou llm.Usage
		start := time.Now()
		outlineText, _, ou = builder.Build(ctx, chunks)
		r.metrics.RecordLLMUsage(metrics.OpLLMSummarize, time.Since(start),
			int64(ou.InputTokens), int64(ou.OutputTokens))
		usage.Add(ou)
		if err := checkpoint(); err != nil {
			return err
		}
	}

	var index *rag.Index
	if longDocument && r.embedder != nil {
		start := time.Now()
		idx, err := rag.Build(ctx, r.embedder, chunks)
		r.metrics.RecordTiming(metrics.OpEmbedding, time.Since(start))
		if err != nil {
			r.logger.Warn("retrieval index build failed, generating without retrieval",
				"run", runID, "error", err)
		} else {
			index = idx
		}
		if err := checkpoint(); err != nil {
			return err
		}
	}

	slugs, err := r.store.TopicSlugs(ctx)
	if err != nil || len(slugs) == 0 {
		slugs = []string{r.cfg.DefaultTopic}
	}

	// Candidate fan-out.
	gen := NewGenerator(r.model, r.cfg.GenerationWorkers, r.metrics, r.logger)
	candidates, gu, err := gen.Generate(ctx, GenerateParams{
		Chunks:       chunks,
		TargetCount:  run.TargetQuestions,
		Difficulty:   run.Difficulty,
		TopicSlugs:   slugs,
		DefaultTopic: r.cfg.DefaultTopic,
		Outline:      outlineText,
		Index:        index,
		Embedder:     r.embedder,
		TopK:         r.cfg.RAGTopK,
		MaxDistance:  r.cfg.RAGMaxDistance,
		OnWorkerDone: func(done, produced int) {
			if perr := r.store.SetRunProgress(ctx, runID, produced, done); perr != nil {
				r.logger.Debug("progress update failed", "run", runID, "error", perr)
			}
		},
	})
	usage.Add(gu)
	if err != nil {
		// Fatal API errors (billing, auth) abort the whole run.
		return err
	}
	if err := checkpoint(); err != nil {
		return err
	}

	// Critique pass, checked at every call boundary.
	filter := NewCritiqueFilter(r.model, r.metrics, r.logger)
	kept, cu, err := filter.Filter(ctx, candidates, func(int) error { return checkpoint() })
	usage.Add(cu)
	if err != nil {
		return err
	}

	selected := Select(kept, run.TargetQuestions, r.cfg.DefaultTopic)
	return r.finish(runID, run, len(candidates), selected, usage)
}

// finish persists the terminal successful or partial outcome. It uses
// a fresh context so the write survives the run deadline expiring
// between the last checkpoint and persistence.
func (r *Runner) finish(runID string, run *models.GenerationRun, candidateCount int, selected []models.MCQ, usage llm.Usage) error {
	target := run.TargetQuestions
	status := models.RunCompleted
	var partialReason *string
	switch {
	case candidateCount == 0:
		// Every worker failed or produced nothing. Generation itself
		// did not throw, so this is a valid zero-question outcome the
		// review layer can top up manually.
		status = models.RunPartial
		partialReason = ptr("No candidates survived generation")
	case len(selected) < target:
		status = models.RunPartial
		partialReason = ptr(fmt.Sprintf("Generated %d of %d requested questions",
			len(selected), target))
	}

	cost := (float64(usage.InputTokens)*r.cfg.InputCostPerMTok +
		float64(usage.OutputTokens)*r.cfg.OutputCostPerMTok) / 1e6

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	_, err := r.store.FinishRun(ctx, runID, db.RunResult{
		Status:           status,
		Questions:        selected,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		EstimatedCostUSD: &cost,
		PartialReason:    truncatePtr(partialReason),
	})
	if err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			r.logger.Info("run cancelled before persistence, discarding results", "run", runID)
			return nil
		}
		return fmt.Errorf("persist run result: %w", err)
	}

	r.logger.Info("run finished", "run", runID, "status", status,
		"questions", len(selected), "target", target,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)

	if run.ExportResult && r.cfg.EnableExport {
		path, err := writeExport(r.cfg.ExportsDir, runID, run, status, selected)
		if err != nil {
			r.logger.Warn("export artifact write failed", "run", runID, "error", err)
		} else {
			r.logger.Info("export artifact written", "run", runID, "path", path)
		}
	}
	return nil
}

// fail records a terminal failure state. Cancellations that already
// happened are preserved by the store, so a lost race here is logged
// and swallowed.
func (r *Runner) fail(runID string, status models.RunStatus, reason string) error {
	reason = truncateReason(reason)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	run, err := r.store.FailRun(ctx, runID, status, reason)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("record run failure: %w", err)
	}
	if run.Status != status {
		// The store only overwrites active runs, so a cancellation
		// that landed first is preserved.
		r.logger.Info("run already terminal, failure not recorded",
			"run", runID, "status", run.Status, "reason", reason)
		return nil
	}
	r.logger.Warn("run failed", "run", runID, "status", status, "reason", reason)
	return nil
}

func truncateReason(s string) string {
	if len(s) > failureReasonMax {
		return s[:failureReasonMax]
	}
	return s
}

func truncatePtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := truncateReason(*s)
	return &t
}

func ptr[T any](v T) *T {
	return &v
}
