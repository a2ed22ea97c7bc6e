package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/quizforge/quizforge/internal/chunker"
	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/models"
)

type stubGenModel struct {
	mu    sync.Mutex
	calls    []llm.MCQRequest
	failText map[string]error // fail calls whose Text contains key
	produce  int              // candidates per successful call, 0 means req.Count
}

func (s *stubGenModel) GenerateMCQs(_ context.Context, req llm.MCQRequest) ([]models.MCQ, llm.Usage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()

	for key, err := range s.failText {
		if strings.Contains(req.Text, key) {
			return nil, llm.Usage{InputTokens: 100}, err
		}
	}
	count := s.produce
	if count == 0 {
		count = req.Count
	}
	out := make([]models.MCQ, count)
	for i := range out {
		out[i] = mcq(
			fmt.Sprintf("generated question call %d index %d with distinct words %d%d", n, i, n*31, i*17),
			"A", "medium", "polity",
			"first option", "second option", "third option", "fourth option",
		)
	}
	return out, llm.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func genChunks(n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Index: i, Text: fmt.Sprintf("chunk-%02d body text", i)}
	}
	return chunks
}

func TestGenerate_FanOutAndJoin(t *testing.T) {
	model := &stubGenModel{produce: 3}
	g := NewGenerator(model, 4, nil, testLogger())

	var mu sync.Mutex
	var doneCounts []int
	candidates, usage, err := g.Generate(context.Background(), GenerateParams{
		Chunks:       genChunks(8),
		TargetCount:  10,
		Difficulty:   models.DifficultyMedium,
		TopicSlugs:   []string{"polity"},
		DefaultTopic: "polity",
		OnWorkerDone: func(done, produced int) {
			mu.Lock()
			doneCounts = append(doneCounts, done)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(candidates) != 12 {
		t.Errorf("candidates = %d, want 12 (4 workers x 3)", len(candidates))
	}
	if usage.InputTokens != 400 || usage.OutputTokens != 200 {
		t.Errorf("usage = %+v, want 400/200", usage)
	}
	if len(model.calls) != 4 {
		t.Fatalf("model calls = %d, want 4", len(model.calls))
	}
	// ceil(10/4) = 3 per worker.
	for _, c := range model.calls {
		if c.Count != 3 {
			t.Errorf("per-worker count = %d, want 3", c.Count)
		}
	}
	if len(doneCounts) != 4 {
		t.Fatalf("OnWorkerDone calls = %d, want 4", len(doneCounts))
	}
	seen := map[int]bool{}
	for _, d := range doneCounts {
		if d < 1 || d > 4 || seen[d] {
			t.Errorf("completion counts = %v, want a permutation of 1..4", doneCounts)
			break
		}
		seen[d] = true
	}
}

func TestGenerate_WorkerFailureIsolated(t *testing.T) {
	// Worker owning chunk-00 fails; the other three are unaffected.
	model := &stubGenModel{
		produce:  2,
		failText: map[string]error{"chunk-00": errors.New("llm timeout")},
	}
	g := NewGenerator(model, 4, nil, testLogger())

	candidates, usage, err := g.Generate(context.Background(), GenerateParams{
		Chunks:       genChunks(8),
		TargetCount:  8,
		Difficulty:   models.DifficultyMedium,
		TopicSlugs:   []string{"polity"},
		DefaultTopic: "polity",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v, transient failure must be absorbed", err)
	}
	if len(candidates) != 6 {
		t.Errorf("candidates = %d, want 6 (3 surviving workers x 2)", len(candidates))
	}
	// The failed call's input tokens still count.
	if usage.InputTokens != 400 {
		t.Errorf("usage.InputTokens = %d, want 400", usage.InputTokens)
	}
}

func TestGenerate_AllWorkersFail(t *testing.T) {
	model := &stubGenModel{
		failText: map[string]error{"chunk": errors.New("provider down")},
	}
	g := NewGenerator(model, 4, nil, testLogger())

	candidates, _, err := g.Generate(context.Background(), GenerateParams{
		Chunks:       genChunks(8),
		TargetCount:  5,
		Difficulty:   models.DifficultyHard,
		TopicSlugs:   []string{"polity"},
		DefaultTopic: "polity",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil with empty pool", err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(candidates))
	}
}

func TestGenerate_FatalAPIErrorSurfaces(t *testing.T) {
	model := &stubGenModel{
		failText: map[string]error{"chunk": fmt.Errorf("%w: billing hard limit reached", llm.ErrFatalAPI)},
	}
	g := NewGenerator(model, 4, nil, testLogger())

	_, _, err := g.Generate(context.Background(), GenerateParams{
		Chunks:       genChunks(4),
		TargetCount:  4,
		Difficulty:   models.DifficultyEasy,
		TopicSlugs:   []string{"polity"},
		DefaultTopic: "polity",
	})
	if !errors.Is(err, llm.ErrFatalAPI) {
		t.Fatalf("Generate() error = %v, want ErrFatalAPI", err)
	}
}

func TestGenerate_WorkersCappedAtChunkCount(t *testing.T) {
	model := &stubGenModel{produce: 1}
	g := NewGenerator(model, 4, nil, testLogger())

	_, _, err := g.Generate(context.Background(), GenerateParams{
		Chunks:       genChunks(2),
		TargetCount:  6,
		Difficulty:   models.DifficultyMedium,
		TopicSlugs:   []string{"polity"},
		DefaultTopic: "polity",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(model.calls) != 2 {
		t.Errorf("model calls = %d, want 2 (capped at chunk count)", len(model.calls))
	}
	// ceil(6/2) = 3 per remaining worker.
	for _, c := range model.calls {
		if c.Count != 3 {
			t.Errorf("per-worker count = %d, want 3", c.Count)
		}
	}
}

func TestPartitionChunks(t *testing.T) {
	tests := []struct {
		name   string
		chunks int
		n      int
		sizes  []int
	}{
		{name: "even split", chunks: 8, n: 4, sizes: []int{2, 2, 2, 2}},
		{name: "remainder spread from front", chunks: 10, n: 4, sizes: []int{3, 3, 2, 2}},
		{name: "one group", chunks: 5, n: 1, sizes: []int{5}},
		{name: "one chunk each", chunks: 3, n: 3, sizes: []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := partitionChunks(genChunks(tt.chunks), tt.n)
			if len(groups) != tt.n {
				t.Fatalf("groups = %d, want %d", len(groups), tt.n)
			}
			next := 0
			for i, g := range groups {
				if len(g) != tt.sizes[i] {
					t.Errorf("group %d size = %d, want %d", i, len(g), tt.sizes[i])
				}
				for _, c := range g {
					if c.Index != next {
						t.Fatalf("group %d not contiguous: chunk %d at position %d", i, c.Index, next)
					}
					next++
				}
			}
			if next != tt.chunks {
				t.Errorf("covered %d chunks, want %d", next, tt.chunks)
			}
		})
	}
}
