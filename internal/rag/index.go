// Package rag provides an in-memory similarity index over document
// chunks, built once per run and queried per generation batch.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/quizforge/quizforge/internal/chunker"
)

// Embedder is the vector source for the index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index holds chunk vectors for nearest-neighbor retrieval. Immutable
// after Build, safe for concurrent Retrieve calls.
type Index struct {
	chunks  []chunker.Chunk
	vectors [][]float32
}

// Build embeds all chunks once. A failed or empty embedding batch is an
// error, callers degrade to chunk-only context.
func Build(ctx context.Context, embedder Embedder, chunks []chunker.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	slog.Debug("retrieval index built", "chunks", len(chunks))
	return &Index{chunks: chunks, vectors: vectors}, nil
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Retrieve returns up to topK chunks nearest to the query, closest
// first. When maxDistance is positive, chunks farther than it are
// filtered out, which may leave the result empty. Callers must then fall
// back to their local chunks.
func (idx *Index) Retrieve(ctx context.Context, embedder Embedder, query string, topK int, maxDistance float64) ([]chunker.Chunk, error) {
	if topK <= 0 || len(idx.chunks) == 0 {
		return nil, nil
	}

	qvec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		chunk    chunker.Chunk
		distance float64
	}
	results := make([]scored, 0, len(idx.chunks))
	for i, v := range idx.vectors {
		d := l2Distance(qvec, v)
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		results = append(results, scored{chunk: idx.chunks[i], distance: d})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].distance < results[j].distance })

	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]chunker.Chunk, len(results))
	for i, r := range results {
		out[i] = r.chunk
	}
	return out, nil
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
