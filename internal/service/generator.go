package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quizforge/quizforge/internal/chunker"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/models"
	"github.com/quizforge/quizforge/internal/rag"
)

// ragQueryChars caps how much of a chunk seeds the retrieval query.
const ragQueryChars = 500

// GeneratorModel produces a batch of MCQ candidates from one prompt.
type GeneratorModel interface {
	GenerateMCQs(ctx context.Context, req llm.MCQRequest) ([]models.MCQ, llm.Usage, error)
}

// GenerateParams describes one candidate-generation fan-out.
type GenerateParams struct {
	Chunks       []chunker.Chunk
	TargetCount  int
	Difficulty   models.Difficulty
	TopicSlugs   []string
	DefaultTopic string

	// Outline is optional global context shared by every worker.
	Outline string

	// Index and Embedder enable per-worker retrieval; when either is
	// nil each worker prompts with its own chunk group only.
	Index    *rag.Index
	Embedder rag.Embedder
	TopK     int
	// MaxDistance filters retrieved chunks; <= 0 disables the filter.
	MaxDistance float64

	// OnWorkerDone is called after each worker finishes with the total
	// number of workers completed so far and the candidates gathered
	// across all finished workers. Counts only, never identities: the
	// caller cannot tell which worker finished.
	OnWorkerDone func(workersCompleted, candidates int)
}

// Generator fans generation out across a fixed pool of workers, each
// owning a contiguous group of chunks and making exactly one
// generation call. A worker's failure contributes zero candidates and
// never cancels its siblings.
type Generator struct {
	model   GeneratorModel
	workers int
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewGenerator(model GeneratorModel, workers int, collector *metrics.Collector, logger *slog.Logger) *Generator {
	if workers <= 0 {
		workers = 4
	}
	return &Generator{model: model, workers: workers, metrics: collector, logger: logger}
}

// Generate runs the fan-out and joins the results. Candidates are
// returned in worker order so the output is deterministic for a given
// set of per-worker results. The returned error is non-nil only for a
// fatal API failure (billing, auth); transient per-worker failures are
// absorbed into an empty result for that worker.
func (g *Generator) Generate(ctx context.Context, p GenerateParams) ([]models.MCQ, llm.Usage, error) {
	if len(p.Chunks) == 0 || p.TargetCount <= 0 {
		return nil, llm.Usage{}, nil
	}

	workers := g.workers
	if workers > len(p.Chunks) {
		workers = len(p.Chunks)
	}
	groups := partitionChunks(p.Chunks, workers)
	perWorker := (p.TargetCount + workers - 1) / workers

	g.logger.Info("starting candidate generation",
		"chunks", len(p.Chunks), "workers", workers, "per_worker", perWorker)

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
		produced  atomic.Int32
		mu        sync.Mutex
		usage     llm.Usage
		fatalErr  error
	)
	results := make([][]models.MCQ, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			var got []models.MCQ
			if ctx.Err() == nil {
				mcqs, u, err := g.generateGroup(ctx, p, groups[workerID], perWorker)
				mu.Lock()
				usage.Add(u)
				if err != nil && errors.Is(err, llm.ErrFatalAPI) && fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				if err != nil {
					g.logger.Warn("generation worker failed",
						"worker", workerID, "chunks", len(groups[workerID]), "error", err)
				} else {
					got = mcqs
				}
			}
			results[workerID] = got

			done := completed.Add(1)
			total := produced.Add(int32(len(got)))
			if p.OnWorkerDone != nil {
				p.OnWorkerDone(int(done), int(total))
			}
		}(i)
	}
	wg.Wait()

	var candidates []models.MCQ
	for _, r := range results {
		candidates = append(candidates, r...)
	}
	g.logger.Info("candidate generation complete",
		"candidates", len(candidates), "workers", workers)
	return candidates, usage, fatalErr
}

// generateGroup makes the single generation call for one worker's
// chunk group, retrieving extra context when an index is available.
func (g *Generator) generateGroup(ctx context.Context, p GenerateParams, group []chunker.Chunk, count int) ([]models.MCQ, llm.Usage, error) {
	var retrieved []string
	if p.Index != nil && p.Embedder != nil && len(group) > 0 {
		query := group[0].Text
		if len(query) > ragQueryChars {
			query = query[:ragQueryChars]
		}
		hits, err := p.Index.Retrieve(ctx, p.Embedder, query, p.TopK, p.MaxDistance)
		if err != nil {
			g.logger.Warn("retrieval failed, using local chunks", "error", err)
		}
		for _, h := range hits {
			retrieved = append(retrieved, h.Text)
		}
	}

	texts := make([]string, len(group))
	for i, c := range group {
		texts[i] = c.Text
	}
	req := llm.MCQRequest{
		Text:         strings.Join(texts, "\n\n"),
		Count:        count,
		Difficulty:   p.Difficulty,
		TopicSlugs:   p.TopicSlugs,
		DefaultTopic: p.DefaultTopic,
		Outline:      p.Outline,
		Retrieved:    retrieved,
	}
	start := time.Now()
	mcqs, usage, err := g.model.GenerateMCQs(ctx, req)
	g.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start),
		int64(usage.InputTokens), int64(usage.OutputTokens))
	return mcqs, usage, err
}

// partitionChunks splits chunks into n contiguous, near-even groups.
// n must be in [1, len(chunks)].
func partitionChunks(chunks []chunker.Chunk, n int) [][]chunker.Chunk {
	groups := make([][]chunker.Chunk, n)
	base := len(chunks) / n
	extra := len(chunks) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		groups[i] = chunks[start : start+size]
		start += size
	}
	return groups
}
