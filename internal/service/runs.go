package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/models"
)

// Bounds on the requested question count per run.
const (
	MinTargetQuestions = 1
	MaxTargetQuestions = 30
)

var (
	// ErrInvalidTarget rejects a question count outside the allowed bounds.
	ErrInvalidTarget = fmt.Errorf("target question count must be between %d and %d",
		MinTargetQuestions, MaxTargetQuestions)

	// ErrNoCredential rejects run submission when no LLM provider
	// credential is configured.
	ErrNoCredential = errors.New("no LLM credential configured")

	// ErrDocumentNotReady rejects run submission for a document whose
	// text extraction has not completed.
	ErrDocumentNotReady = errors.New("document text not extracted yet")
)

// RunServiceStore is the persistence surface for run submission and
// inspection. *db.Client satisfies it.
type RunServiceStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CreateRun(ctx context.Context, input models.RunInput) (*models.GenerationRun, error)
	GetRun(ctx context.Context, id string) (*models.GenerationRun, error)
	ListRuns(ctx context.Context, documentID *string, limit int) ([]models.GenerationRun, error)
	CancelRun(ctx context.Context, id string) (*models.GenerationRun, error)
	ListQuestions(ctx context.Context, runID string) ([]models.Question, error)
}

// StartRunRequest is a run submission.
type StartRunRequest struct {
	DocumentID      string  `json:"document_id"`
	Title           *string `json:"title,omitempty"`
	TargetQuestions int     `json:"target_questions"`
	Difficulty      string  `json:"difficulty"`
	ExportResult    bool    `json:"export_result"`
}

// RunStatusInfo is the lightweight progress view of a run.
type RunStatusInfo struct {
	ID                 string           `json:"id"`
	Status             models.RunStatus `json:"status"`
	TargetQuestions    int              `json:"target_questions"`
	QuestionsGenerated int              `json:"questions_generated"`
	WorkersCompleted   int              `json:"workers_completed"`
	Progress           float64          `json:"progress"`
	Message            string           `json:"message"`
	Stale              bool             `json:"stale"`
	ElapsedSeconds     *int             `json:"elapsed_seconds,omitempty"`
	FailureReason      *string          `json:"failure_reason,omitempty"`
	PartialReason      *string          `json:"partial_reason,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// RunResultView is the full terminal description of a run. Questions is
// empty until the run reaches a terminal persisted state.
type RunResultView struct {
	Run       *models.GenerationRun `json:"run"`
	Questions []models.Question     `json:"questions"`
}

// RunService validates run submissions, launches the pipeline in the
// background, and serves status, result, and cancellation requests.
type RunService struct {
	store   RunServiceStore
	runner  *Runner
	cfg     config.Config
	model   string
	logger  *slog.Logger
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewRunService wires the run API surface. baseCtx bounds the lifetime
// of background pipelines; cancelling it stops accepting work mid-run
// and leaves affected runs to the stale sweep.
func NewRunService(baseCtx context.Context, store RunServiceStore, runner *Runner, cfg config.Config, modelName string, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		store:   store,
		runner:  runner,
		cfg:     cfg,
		model:   modelName,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// StartRun validates the request, creates the run in pending, and
// launches the pipeline in the background. The created run is returned
// immediately; progress is observable through GetStatus.
//
// Duplicate submissions for a document with an active run surface
// db.ErrActiveRunExists from the store's conditional insert.
func (s *RunService) StartRun(ctx context.Context, req StartRunRequest) (*models.GenerationRun, error) {
	if req.TargetQuestions < MinTargetQuestions || req.TargetQuestions > MaxTargetQuestions {
		return nil, ErrInvalidTarget
	}
	difficulty, err := models.ParseDifficulty(req.Difficulty)
	if err != nil {
		return nil, err
	}
	if !s.cfg.HasLLMCredential() {
		return nil, ErrNoCredential
	}

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: not found", req.DocumentID)
	}
	if doc.Status != models.DocumentReady || doc.ExtractedText == nil || *doc.ExtractedText == "" {
		return nil, ErrDocumentNotReady
	}
	if words := models.CountWords(*doc.ExtractedText); words < s.cfg.MinExtractionWords {
		return nil, fmt.Errorf("document has %d words, minimum is %d: %w",
			words, s.cfg.MinExtractionWords, ErrDocumentNotReady)
	}

	run, err := s.store.CreateRun(ctx, models.RunInput{
		DocumentID:      req.DocumentID,
		Title:           req.Title,
		TargetQuestions: req.TargetQuestions,
		Difficulty:      difficulty,
		PromptVersion:   s.cfg.PromptVersion,
		Model:           s.model,
		ExportResult:    req.ExportResult,
	})
	if err != nil {
		return nil, err
	}

	runID, err := models.RecordIDString(run.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve run id: %w", err)
	}

	s.logger.Info("run submitted", "run", runID,
		"document", req.DocumentID, "target", req.TargetQuestions, "difficulty", difficulty)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("run pipeline panicked", "run", runID, "panic", rec)
				_ = s.runner.fail(runID, models.RunFailed, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		if err := s.runner.Execute(s.baseCtx, runID); err != nil {
			s.logger.Error("run pipeline error", "run", runID, "error", err)
		}
	}()

	return run, nil
}

// GetStatus returns the progress view of a run.
func (s *RunService) GetStatus(ctx context.Context, runID string) (*RunStatusInfo, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.statusInfo(runID, run), nil
}

func (s *RunService) statusInfo(runID string, run *models.GenerationRun) *RunStatusInfo {
	return &RunStatusInfo{
		ID:                 runID,
		Status:             run.Status,
		TargetQuestions:    run.TargetQuestions,
		QuestionsGenerated: run.QuestionsGenerated,
		WorkersCompleted:   run.WorkersCompleted,
		Progress:           s.progressFraction(run),
		Message:            statusMessage(run),
		Stale:              run.Stale(time.Now(), s.cfg.GenerationTimeoutBase),
		ElapsedSeconds:     run.ElapsedSeconds(),
		FailureReason:      run.FailureReason,
		PartialReason:      run.PartialReason,
		UpdatedAt:          run.UpdatedAt,
	}
}

// progressFraction maps run state to a coarse 0..1 figure for progress
// bars. Worker completions drive the generating phase; the fraction
// never moves backwards because the underlying counters are monotonic.
func (s *RunService) progressFraction(run *models.GenerationRun) float64 {
	switch {
	case run.Status == models.RunPending:
		return 0.0
	case run.Status.Terminal():
		return 1.0
	}
	workers := s.cfg.GenerationWorkers
	if workers <= 0 {
		workers = 1
	}
	frac := 0.05 + 0.9*float64(run.WorkersCompleted)/float64(workers)
	if frac > 0.95 {
		frac = 0.95
	}
	return frac
}

func statusMessage(run *models.GenerationRun) string {
	switch run.Status {
	case models.RunPending:
		return "Queued for generation"
	case models.RunGenerating:
		return fmt.Sprintf("Generating questions (%d candidates, %d workers done)",
			run.QuestionsGenerated, run.WorkersCompleted)
	case models.RunCompleted:
		return fmt.Sprintf("Completed with %d questions", run.QuestionsGenerated)
	case models.RunPartial:
		if run.PartialReason != nil {
			return *run.PartialReason
		}
		return fmt.Sprintf("Partial result with %d questions", run.QuestionsGenerated)
	default:
		if run.FailureReason != nil {
			return *run.FailureReason
		}
		return string(run.Status)
	}
}

// GetResult returns the run together with its persisted questions.
// Always well-formed: active and failed runs return an empty question
// list, never an error payload.
func (s *RunService) GetResult(ctx context.Context, runID string) (*RunResultView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	questions := []models.Question{}
	if run.Status.Terminal() {
		questions, err = s.store.ListQuestions(ctx, runID)
		if err != nil {
			return nil, err
		}
	}
	return &RunResultView{Run: run, Questions: questions}, nil
}

// Cancel requests cooperative cancellation. Idempotent on an already
// cancelled run; the pipeline notices at its next checkpoint and
// discards any in-flight results.
func (s *RunService) Cancel(ctx context.Context, runID string) (*models.GenerationRun, error) {
	run, err := s.store.CancelRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run cancellation requested", "run", runID, "status", run.Status)
	return run, nil
}

// ListRuns returns recent runs, optionally scoped to one document.
func (s *RunService) ListRuns(ctx context.Context, documentID *string, limit int) ([]models.GenerationRun, error) {
	return s.store.ListRuns(ctx, documentID, limit)
}

// Wait blocks until all background pipelines launched by StartRun have
// returned. Used during graceful shutdown.
func (s *RunService) Wait() {
	s.wg.Wait()
}
