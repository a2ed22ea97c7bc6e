package models

import (
	"fmt"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RunStatus is the state of a generation run.
//
// pending -> generating -> {completed, partial, failed, failed_timeout}
// cancelled is reachable from pending or generating only.
type RunStatus string

const (
	RunPending       RunStatus = "pending"
	RunGenerating    RunStatus = "generating"
	RunCompleted     RunStatus = "completed"
	RunPartial       RunStatus = "partial"
	RunFailed        RunStatus = "failed"
	RunFailedTimeout RunStatus = "failed_timeout"
	RunCancelled     RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunPartial, RunFailed, RunFailedTimeout, RunCancelled:
		return true
	}
	return false
}

// Active reports whether a run in this status blocks new runs for the
// same document.
func (s RunStatus) Active() bool {
	return s == RunPending || s == RunGenerating
}

// Difficulty is the requested difficulty for a run.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// ParseDifficulty normalizes and validates a difficulty string.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToUpper(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy, nil
	case DifficultyMedium:
		return DifficultyMedium, nil
	case DifficultyHard:
		return DifficultyHard, nil
	}
	return "", fmt.Errorf("difficulty must be EASY, MEDIUM, or HARD, got %q", s)
}

// GenerationRun is one invocation of the pipeline against one document.
type GenerationRun struct {
	ID       surrealmodels.RecordID `json:"id"`
	Document surrealmodels.RecordID `json:"document"`

	Title  *string   `json:"title,omitempty"`
	Status RunStatus `json:"status"`

	TargetQuestions int        `json:"target_questions"`
	Difficulty      Difficulty `json:"difficulty"`

	// Progress counters, non-decreasing over the run's lifetime.
	QuestionsGenerated int `json:"questions_generated"`
	WorkersCompleted   int `json:"workers_completed"`

	// Reproducibility and accounting metadata.
	PromptVersion    string   `json:"prompt_version"`
	Model            string   `json:"model"`
	InputTokens      int      `json:"input_tokens"`
	OutputTokens     int      `json:"output_tokens"`
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`

	FailureReason *string `json:"failure_reason,omitempty"`
	PartialReason *string `json:"partial_reason,omitempty"`

	ExportResult bool `json:"export_result"`

	// TimeoutSec is the dynamic wall-clock budget recorded when the run
	// starts, used by the staleness sweep.
	TimeoutSec int `json:"timeout_sec"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunInput is the input structure for creating runs.
type RunInput struct {
	DocumentID      string     `json:"document_id"`
	Title           *string    `json:"title,omitempty"`
	TargetQuestions int        `json:"target_questions"`
	Difficulty      Difficulty `json:"difficulty"`
	PromptVersion   string     `json:"prompt_version"`
	Model           string     `json:"model"`
	ExportResult    bool       `json:"export_result"`
	TimeoutSec      int        `json:"timeout_sec"`
}

// LastActivity returns the later of updated_at and created_at.
// Staleness comparisons must use this, not created_at alone.
func (r *GenerationRun) LastActivity() time.Time {
	if r.UpdatedAt.After(r.CreatedAt) {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// Stale reports whether an active run has outlived its timeout budget.
func (r *GenerationRun) Stale(now time.Time, defaultTimeout time.Duration) bool {
	if !r.Status.Active() {
		return false
	}
	timeout := defaultTimeout
	if r.TimeoutSec > 0 {
		timeout = time.Duration(r.TimeoutSec) * time.Second
	}
	return now.Sub(r.LastActivity()) > timeout
}

// ElapsedSeconds returns create-to-last-update duration for terminal runs,
// nil while the run is still active.
func (r *GenerationRun) ElapsedSeconds() *int {
	if !r.Status.Terminal() {
		return nil
	}
	secs := int(r.LastActivity().Sub(r.CreatedAt).Seconds())
	return &secs
}
