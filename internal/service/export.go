package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quizforge/quizforge/internal/models"
)

// exportArtifact is the JSON file written for runs flagged with
// export_result. It is a side artifact for offline review, not part of
// the persisted run state.
type exportArtifact struct {
	RunID         string           `json:"run_id"`
	Status        models.RunStatus `json:"status"`
	PromptVersion string           `json:"prompt_version"`
	Model         string           `json:"model"`
	Difficulty    string           `json:"difficulty"`
	ExportedAt    time.Time        `json:"exported_at"`
	Questions     []models.MCQ     `json:"questions"`
}

// writeExport writes the selected questions as a JSON artifact under
// dir. Returns the written path.
func writeExport(dir, runID string, run *models.GenerationRun, status models.RunStatus, questions []models.MCQ) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create exports dir: %w", err)
	}

	artifact := exportArtifact{
		RunID:         runID,
		Status:        status,
		PromptVersion: run.PromptVersion,
		Model:         run.Model,
		Difficulty:    string(run.Difficulty),
		ExportedAt:    time.Now().UTC(),
		Questions:     questions,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%s.json", runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
