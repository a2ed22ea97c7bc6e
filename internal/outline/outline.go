// Package outline synthesizes a short global outline from chunk
// summaries. Used to ground generation on long documents.
package outline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quizforge/quizforge/internal/chunker"
	"github.com/quizforge/quizforge/internal/llm"
)

// Summarizer is the LLM surface the builder needs.
type Summarizer interface {
	SummarizeChunk(ctx context.Context, text string) (string, llm.Usage, error)
	SynthesizeOutline(ctx context.Context, summaries []string) (string, llm.Usage, error)
}

// Builder gates and produces document outlines.
type Builder struct {
	summarizer Summarizer
	// Threshold: outline only when a document has more chunks than this
	Threshold int
	// MaxChunks caps how many chunks are summarized per document
	MaxChunks int
	logger    *slog.Logger
}

func NewBuilder(summarizer Summarizer, threshold, maxChunks int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		summarizer: summarizer,
		Threshold:  threshold,
		MaxChunks:  maxChunks,
		logger:     logger,
	}
}

// ShouldBuild is the outline gate. The decision is logged either way so
// runs can be diagnosed from logs alone.
func (b *Builder) ShouldBuild(enabled bool, chunkCount int) bool {
	decision := enabled && chunkCount > b.Threshold
	b.logger.Info("outline gate evaluated",
		"enabled", enabled,
		"chunks", chunkCount,
		"threshold", b.Threshold,
		"build_outline", decision)
	return decision
}

// Build summarizes up to MaxChunks chunks and synthesizes them into one
// outline. Any failure or empty result degrades to an empty outline
// rather than an error: generation proceeds with chunk-only context.
func (b *Builder) Build(ctx context.Context, chunks []chunker.Chunk) (outlineText string, summaries []string, usage llm.Usage) {
	limit := len(chunks)
	if b.MaxChunks > 0 && limit > b.MaxChunks {
		limit = b.MaxChunks
	}

	summaries = make([]string, 0, limit)
	for _, c := range chunks[:limit] {
		summary, u, err := b.summarizer.SummarizeChunk(ctx, c.Text)
		usage.Add(u)
		if err != nil {
			b.logger.Warn("chunk summarization failed, skipping",
				"chunk", c.Index,
				"error", err)
			continue
		}
		if strings.TrimSpace(summary) != "" {
			summaries = append(summaries, summary)
		}
	}

	if len(summaries) == 0 {
		b.logger.Warn("no chunk summaries produced, proceeding without outline")
		return "", nil, usage
	}

	text, u, err := b.summarizer.SynthesizeOutline(ctx, summaries)
	usage.Add(u)
	if err != nil || strings.TrimSpace(text) == "" {
		b.logger.Warn("outline synthesis failed, proceeding without outline",
			"summaries", len(summaries),
			"error", err)
		return "", summaries, usage
	}

	return strings.TrimSpace(text), summaries, usage
}
