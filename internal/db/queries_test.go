package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quizforge/quizforge/internal/models"
)

// =============================================================================
// FINISH / CANCEL TESTS
// =============================================================================

func TestFinishRun_PersistsQuestionsAtomically(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}

	cost := 0.0123
	finished, err := testDB.FinishRun(ctx, runID, RunResult{
		Status:           models.RunCompleted,
		Questions:        sampleMCQs(5),
		InputTokens:      1200,
		OutputTokens:     800,
		EstimatedCostUSD: &cost,
	})
	if err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	if finished.Status != models.RunCompleted {
		t.Errorf("Expected status completed, got %q", finished.Status)
	}
	if finished.QuestionsGenerated != 5 {
		t.Errorf("Expected 5 questions_generated, got %d", finished.QuestionsGenerated)
	}
	if finished.InputTokens != 1200 || finished.OutputTokens != 800 {
		t.Errorf("Token accounting lost: %d/%d", finished.InputTokens, finished.OutputTokens)
	}
	if finished.EstimatedCostUSD == nil || *finished.EstimatedCostUSD != cost {
		t.Errorf("Expected cost %v, got %v", cost, finished.EstimatedCostUSD)
	}

	questions, err := testDB.ListQuestions(ctx, runID)
	if err != nil {
		t.Fatalf("ListQuestions failed: %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("Expected 5 persisted questions, got %d", len(questions))
	}
	for i, q := range questions {
		if q.SortOrder != i {
			t.Errorf("questions[%d].SortOrder = %d", i, q.SortOrder)
		}
		if len(q.Options) != 4 {
			t.Errorf("questions[%d] has %d options", i, len(q.Options))
		}
		if q.CorrectOption != "B" {
			t.Errorf("questions[%d].CorrectOption = %q", i, q.CorrectOption)
		}
		if q.QualityScore == nil || *q.QualityScore != 1.0 {
			t.Errorf("questions[%d] quality score lost", i)
		}
	}
}

func TestFinishRun_RejectedAfterCancel(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if _, err := testDB.CancelRun(ctx, runID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}

	// The pipeline finishing after a cancel must not persist anything.
	_, err := testDB.FinishRun(ctx, runID, RunResult{
		Status:    models.RunCompleted,
		Questions: sampleMCQs(3),
	})
	if err == nil {
		t.Fatal("Expected FinishRun to fail after cancel")
	}
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("Expected ErrStatusConflict, got %v", err)
	}

	questions, err := testDB.ListQuestions(ctx, runID)
	if err != nil {
		t.Fatalf("ListQuestions failed: %v", err)
	}
	if len(questions) != 0 {
		t.Errorf("Cancelled run persisted %d questions, want 0", len(questions))
	}

	got, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunCancelled {
		t.Errorf("Expected status cancelled, got %q", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != "Cancelled by user" {
		t.Errorf("Expected failure reason 'Cancelled by user', got %v", got.FailureReason)
	}
}

func TestCancelRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	first, err := testDB.CancelRun(ctx, runID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if first.Status != models.RunCancelled {
		t.Errorf("Expected cancelled, got %q", first.Status)
	}

	second, err := testDB.CancelRun(ctx, runID)
	if err != nil {
		t.Fatalf("Second CancelRun failed: %v", err)
	}
	if second.Status != models.RunCancelled {
		t.Errorf("Expected cancelled on repeat, got %q", second.Status)
	}
}

func TestCancelRun_LeavesOtherTerminalStatesUnchanged(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if _, err := testDB.FinishRun(ctx, runID, RunResult{
		Status:    models.RunCompleted,
		Questions: sampleMCQs(1),
	}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := testDB.CancelRun(ctx, runID)
	if err != nil {
		t.Fatalf("CancelRun on completed run failed: %v", err)
	}
	if got.Status != models.RunCompleted {
		t.Errorf("Expected completed run untouched, got %q", got.Status)
	}

	reread, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if reread.Status != models.RunCompleted {
		t.Errorf("Expected stored status completed, got %q", reread.Status)
	}
}

func TestCancelRun_NotFound(t *testing.T) {
	_, err := testDB.CancelRun(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("Expected error for missing run")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFailRun_PreservesCancelledStatus(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.CancelRun(ctx, runID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}

	got, err := testDB.FailRun(ctx, runID, models.RunFailed, "pipeline exploded")
	if err != nil {
		t.Fatalf("FailRun failed: %v", err)
	}
	if got.Status != models.RunCancelled {
		t.Errorf("FailRun overwrote cancelled status with %q", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != "Cancelled by user" {
		t.Errorf("FailRun overwrote cancel reason: %v", got.FailureReason)
	}
}

func TestFailRun_MarksActiveRun(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	got, err := testDB.FailRun(ctx, runID, models.RunFailedTimeout, "Run exceeded time limit")
	if err != nil {
		t.Fatalf("FailRun failed: %v", err)
	}
	if got.Status != models.RunFailedTimeout {
		t.Errorf("Expected failed_timeout, got %q", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != "Run exceeded time limit" {
		t.Errorf("Expected failure reason, got %v", got.FailureReason)
	}
}

// =============================================================================
// STALE SWEEP TESTS
// =============================================================================

func TestClearStaleRuns(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	// Give the run a one second budget, then let it go stale.
	if _, err := testDB.MarkRunGenerating(ctx, runID, 1); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	swept, err := testDB.ClearStaleRuns(ctx, 20*time.Minute)
	if err != nil {
		t.Fatalf("ClearStaleRuns failed: %v", err)
	}
	if swept < 1 {
		t.Fatalf("Expected at least 1 swept run, got %d", swept)
	}

	got, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunFailedTimeout {
		t.Errorf("Expected failed_timeout after sweep, got %q", got.Status)
	}
}

func TestClearStaleRuns_SparesLiveRuns(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 3600); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if err := testDB.TouchRun(ctx, runID); err != nil {
		t.Fatalf("TouchRun failed: %v", err)
	}

	if _, err := testDB.ClearStaleRuns(ctx, 20*time.Minute); err != nil {
		t.Fatalf("ClearStaleRuns failed: %v", err)
	}

	got, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunGenerating {
		t.Errorf("Live run was swept, status now %q", got.Status)
	}
}

// =============================================================================
// QUESTION EDIT TESTS
// =============================================================================

func completedRun(t *testing.T, questionCount int) string {
	t.Helper()
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if _, err := testDB.FinishRun(ctx, runID, RunResult{
		Status:    models.RunCompleted,
		Questions: sampleMCQs(questionCount),
	}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	return runID
}

func TestAppendQuestion_NextSortSlot(t *testing.T) {
	ctx := context.Background()
	runID := completedRun(t, 3)

	q, err := testDB.AppendQuestion(ctx, runID, models.QuestionInput{
		Stem: "Manually added question?",
		Options: []models.Option{
			{Label: "A", Text: "Yes"},
			{Label: "B", Text: "No"},
			{Label: "C", Text: "Maybe"},
			{Label: "D", Text: "Unclear"},
		},
		CorrectOption: "A",
		Explanation:   "Faculty addition.",
		Difficulty:    "easy",
		TopicTag:      "polity",
	})
	if err != nil {
		t.Fatalf("AppendQuestion failed: %v", err)
	}
	if q.SortOrder != 3 {
		t.Errorf("Expected sort_order 3 after 3 questions, got %d", q.SortOrder)
	}

	questions, err := testDB.ListQuestions(ctx, runID)
	if err != nil {
		t.Fatalf("ListQuestions failed: %v", err)
	}
	if len(questions) != 4 {
		t.Errorf("Expected 4 questions, got %d", len(questions))
	}
}

func TestAppendQuestion_EmptyRunStartsAtZero(t *testing.T) {
	runID := completedRun(t, 0)

	q, err := testDB.AppendQuestion(context.Background(), runID, models.QuestionInput{
		Stem: "First manual question?",
		Options: []models.Option{
			{Label: "A", Text: "1"},
			{Label: "B", Text: "2"},
			{Label: "C", Text: "3"},
			{Label: "D", Text: "4"},
		},
		CorrectOption: "D",
		Explanation:   "Because.",
		Difficulty:    "medium",
		TopicTag:      "history",
	})
	if err != nil {
		t.Fatalf("AppendQuestion failed: %v", err)
	}
	if q.SortOrder != 0 {
		t.Errorf("Expected sort_order 0 on empty run, got %d", q.SortOrder)
	}
}

func TestUpdateQuestion(t *testing.T) {
	ctx := context.Background()
	runID := completedRun(t, 1)

	questions, err := testDB.ListQuestions(ctx, runID)
	if err != nil || len(questions) != 1 {
		t.Fatalf("ListQuestions failed: %v (%d)", err, len(questions))
	}

	updated, err := testDB.UpdateQuestion(ctx, models.MustRecordIDString(questions[0].ID), models.QuestionInput{
		Stem: "Edited stem?",
		Options: []models.Option{
			{Label: "A", Text: "Edited A"},
			{Label: "B", Text: "Edited B"},
			{Label: "C", Text: "Edited C"},
			{Label: "D", Text: "Edited D"},
		},
		CorrectOption: "C",
		Explanation:   "Edited explanation.",
		Difficulty:    "hard",
		TopicTag:      "economy",
	})
	if err != nil {
		t.Fatalf("UpdateQuestion failed: %v", err)
	}
	if updated.Stem != "Edited stem?" {
		t.Errorf("Stem not updated: %q", updated.Stem)
	}
	if updated.CorrectOption != "C" {
		t.Errorf("CorrectOption not updated: %q", updated.CorrectOption)
	}
	if updated.SortOrder != 0 {
		t.Errorf("SortOrder changed by edit: %d", updated.SortOrder)
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestRunStatusCountsAndTotals(t *testing.T) {
	ctx := context.Background()
	completedRun(t, 2)

	counts, err := testDB.RunStatusCounts(ctx)
	if err != nil {
		t.Fatalf("RunStatusCounts failed: %v", err)
	}
	found := false
	for _, c := range counts {
		if c.Status == string(models.RunCompleted) && c.Count > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected completed runs in counts, got %+v", counts)
	}

	totals, err := testDB.RunTotalsAggregate(ctx)
	if err != nil {
		t.Fatalf("RunTotalsAggregate failed: %v", err)
	}
	if totals.Runs == 0 {
		t.Error("Expected non-zero run total")
	}
	if totals.Questions < 2 {
		t.Errorf("Expected at least 2 questions in totals, got %d", totals.Questions)
	}
}
