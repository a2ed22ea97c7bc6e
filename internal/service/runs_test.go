package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/models"
)

func newTestRunService(store *fakeStore, model *runnerStubModel, cfg config.Config) *RunService {
	cfg.OpenAIKey = "sk-test"
	cfg.LLMProvider = "openai"
	runner := NewRunner(store, model, nil, cfg, nil, testLogger())
	return NewRunService(context.Background(), store, runner, cfg, "gpt-4o-mini", testLogger())
}

func TestStartRun_ValidatesRequest(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	tests := []struct {
		name    string
		req     StartRunRequest
		wantErr error
	}{
		{
			name:    "target too low",
			req:     StartRunRequest{DocumentID: "doc1", TargetQuestions: 0, Difficulty: "MEDIUM"},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "target too high",
			req:     StartRunRequest{DocumentID: "doc1", TargetQuestions: 31, Difficulty: "MEDIUM"},
			wantErr: ErrInvalidTarget,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartRun(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StartRun() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("bad difficulty", func(t *testing.T) {
		_, err := svc.StartRun(context.Background(), StartRunRequest{
			DocumentID: "doc1", TargetQuestions: 5, Difficulty: "IMPOSSIBLE",
		})
		if err == nil {
			t.Errorf("StartRun() accepted invalid difficulty")
		}
	})
}

func TestStartRun_RequiresCredential(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	cfg := testRunnerConfig()
	cfg.LLMProvider = "openai" // no key set
	runner := NewRunner(store, &runnerStubModel{}, nil, cfg, nil, testLogger())
	svc := NewRunService(context.Background(), store, runner, cfg, "gpt-4o-mini", testLogger())

	_, err := svc.StartRun(context.Background(), StartRunRequest{
		DocumentID: "doc1", TargetQuestions: 5, Difficulty: "MEDIUM",
	})
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("StartRun() error = %v, want ErrNoCredential", err)
	}
}

func TestStartRun_RequiresExtractedDocument(t *testing.T) {
	store := newFakeStore()
	empty := ""
	store.addDoc("doc1", empty)
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	_, err := svc.StartRun(context.Background(), StartRunRequest{
		DocumentID: "doc1", TargetQuestions: 5, Difficulty: "MEDIUM",
	})
	if !errors.Is(err, ErrDocumentNotReady) {
		t.Errorf("StartRun() error = %v, want ErrDocumentNotReady", err)
	}
}

func TestStartRun_RunsToCompletion(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	run, err := svc.StartRun(context.Background(), StartRunRequest{
		DocumentID: "doc1", TargetQuestions: 4, Difficulty: "MEDIUM",
	})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if run.Status != models.RunPending {
		t.Errorf("initial status = %s, want pending", run.Status)
	}
	svc.Wait()

	runID := models.MustRecordIDString(run.ID)
	status, err := svc.GetStatus(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Status != models.RunCompleted {
		t.Fatalf("final status = %s, want completed", status.Status)
	}

	result, err := svc.GetResult(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if len(result.Questions) != 4 {
		t.Errorf("result questions = %d, want 4", len(result.Questions))
	}
	for i, q := range result.Questions {
		if q.SortOrder != i {
			t.Errorf("question %d sort_order = %d", i, q.SortOrder)
		}
	}
}

func TestStartRun_RejectsDuplicateActiveRun(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	// Slow model keeps the first run active while the second submits.
	model := &runnerStubModel{generateWait: 200 * time.Millisecond}
	svc := newTestRunService(store, model, testRunnerConfig())

	_, err := svc.StartRun(context.Background(), StartRunRequest{
		DocumentID: "doc1", TargetQuestions: 4, Difficulty: "MEDIUM",
	})
	if err != nil {
		t.Fatalf("first StartRun() error = %v", err)
	}

	_, err = svc.StartRun(context.Background(), StartRunRequest{
		DocumentID: "doc1", TargetQuestions: 4, Difficulty: "MEDIUM",
	})
	if !errors.Is(err, db.ErrActiveRunExists) {
		t.Errorf("second StartRun() error = %v, want ErrActiveRunExists", err)
	}
	svc.Wait()
}

func TestCancel_Idempotent(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	store.addRun("run1", "doc1", 4)
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	run, err := svc.Cancel(context.Background(), "run1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if run.Status != models.RunCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}

	again, err := svc.Cancel(context.Background(), "run1")
	if err != nil {
		t.Fatalf("second Cancel() error = %v, want idempotent no-op", err)
	}
	if again.Status != models.RunCancelled {
		t.Errorf("second Cancel() status = %s", again.Status)
	}
}

func TestCancel_TerminalRunLeftUnchanged(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	run := store.addRun("run1", "doc1", 4)
	run.Status = models.RunCompleted
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	got, err := svc.Cancel(context.Background(), "run1")
	if err != nil {
		t.Fatalf("Cancel() error = %v, want no-op on terminal run", err)
	}
	if got.Status != models.RunCompleted {
		t.Errorf("Cancel() status = %s, want completed", got.Status)
	}
	if run.Status != models.RunCompleted {
		t.Errorf("stored status = %s, want completed", run.Status)
	}
	if run.FailureReason != nil {
		t.Errorf("stored failure reason = %q, want none", *run.FailureReason)
	}
}

func TestGetResult_ActiveRunHasNoQuestions(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc1", docText())
	run := store.addRun("run1", "doc1", 4)
	run.Status = models.RunGenerating
	svc := newTestRunService(store, &runnerStubModel{}, testRunnerConfig())

	result, err := svc.GetResult(context.Background(), "run1")
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if result.Run.Status != models.RunGenerating {
		t.Errorf("status = %s", result.Run.Status)
	}
	if len(result.Questions) != 0 {
		t.Errorf("active run returned %d questions", len(result.Questions))
	}
}
