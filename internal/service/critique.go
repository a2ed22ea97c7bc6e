package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/quizforge/quizforge/internal/llm"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/models"
)

// lowQualityPhrases mark a critique as flagging a broken question.
var lowQualityPhrases = []string{
	"incorrect key",
	"wrong answer",
	"incorrect answer",
	"key is wrong",
	"explanation is wrong",
}

// ScoreCritique maps a free-text critique to a 0.0-1.0 quality score.
// An empty critique is neutral, a low-quality phrase is disqualifying,
// and an unqualified approval scores full marks.
func ScoreCritique(critique string) float64 {
	c := strings.ToLower(strings.TrimSpace(critique))
	if c == "" {
		return 0.5
	}
	for _, phrase := range lowQualityPhrases {
		if strings.Contains(c, phrase) {
			return 0.0
		}
	}
	if strings.Contains(c, "correct") && !strings.Contains(c, "incorrect") {
		return 1.0
	}
	return 0.7
}

// CritiqueModel reviews a single MCQ and returns a short critique.
type CritiqueModel interface {
	Critique(ctx context.Context, mcq models.MCQ) (string, llm.Usage, error)
}

// CritiqueFilter runs the sequential self-validation pass over
// generated candidates.
type CritiqueFilter struct {
	model   CritiqueModel
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewCritiqueFilter(model CritiqueModel, collector *metrics.Collector, logger *slog.Logger) *CritiqueFilter {
	return &CritiqueFilter{model: model, metrics: collector, logger: logger}
}

// Filter critiques each candidate in order, annotates it with the
// critique text and quality score, and drops candidates the critique
// disqualifies. A failed critique call keeps the candidate at a
// neutral score rather than discarding work already paid for.
//
// checkpoint is called after each candidate with the number reviewed
// so far; a non-nil return aborts the pass and is returned to the
// caller together with the usage accumulated up to that point.
func (f *CritiqueFilter) Filter(
	ctx context.Context,
	candidates []models.MCQ,
	checkpoint func(reviewed int) error,
) ([]models.MCQ, llm.Usage, error) {
	var usage llm.Usage
	kept := make([]models.MCQ, 0, len(candidates))

	for i, m := range candidates {
		start := time.Now()
		critique, u, err := f.model.Critique(ctx, m)
		f.metrics.RecordLLMUsage(metrics.OpLLMCritique, time.Since(start),
			int64(u.InputTokens), int64(u.OutputTokens))
		usage.Add(u)
		if err != nil {
			f.logger.Debug("critique call failed, keeping candidate",
				"index", i, "error", err)
			critique = ""
		}

		m.Critique = critique
		m.QualityScore = ScoreCritique(critique)
		if m.QualityScore == 0.0 {
			f.logger.Info("dropping candidate flagged by critique",
				"index", i, "critique", critique)
		} else {
			kept = append(kept, m)
		}

		if checkpoint != nil {
			if err := checkpoint(i + 1); err != nil {
				return kept, usage, err
			}
		}
	}
	return kept, usage, nil
}
