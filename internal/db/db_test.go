// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quizforge/quizforge/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	// Start SurrealDB container
	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	// Get container host and port
	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	// Connect to test database
	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// mustCreateDocument creates a document for run tests.
func mustCreateDocument(t *testing.T, words int) *models.Document {
	t.Helper()
	ctx := context.Background()

	text := strings.TrimSpace(strings.Repeat("constitutional framework ", words/2))
	title := "Test Document"
	doc, err := testDB.CreateDocument(ctx, models.DocumentInput{
		Title:         &title,
		Status:        models.DocumentReady,
		ExtractedText: &text,
		WordCount:     models.CountWords(text),
		PageCount:     3,
	})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	return doc
}

func mustCreateRun(t *testing.T, docID string) *models.GenerationRun {
	t.Helper()
	run, err := testDB.CreateRun(context.Background(), models.RunInput{
		DocumentID:      docID,
		TargetQuestions: 10,
		Difficulty:      models.DifficultyMedium,
		PromptVersion:   "mcq_v1",
		Model:           "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func sampleMCQs(n int) []models.MCQ {
	out := make([]models.MCQ, n)
	for i := range out {
		critique := "The answer is correct and the question is clear."
		out[i] = models.MCQ{
			Stem: fmt.Sprintf("Question %d about the constitution?", i),
			Options: []models.Option{
				{Label: "A", Text: "First"},
				{Label: "B", Text: "Second"},
				{Label: "C", Text: "Third"},
				{Label: "D", Text: "Fourth"},
			},
			CorrectOption: "B",
			Explanation:   "Because the second option is right.",
			Difficulty:    "medium",
			TopicTag:      "polity",
			Critique:      critique,
			QualityScore:  1.0,
		}
	}
	return out
}

// =============================================================================
// DOCUMENT TESTS
// =============================================================================

func TestCreateAndGetDocument(t *testing.T) {
	ctx := context.Background()

	doc := mustCreateDocument(t, 600)

	if doc.Status != models.DocumentReady {
		t.Errorf("Expected status ready, got %q", doc.Status)
	}
	if doc.WordCount == 0 {
		t.Error("Expected non-zero word count")
	}

	got, err := testDB.GetDocument(ctx, models.MustRecordIDString(doc.ID))
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetDocument returned nil")
	}
	if got.Title == nil || *got.Title != "Test Document" {
		t.Errorf("Expected title 'Test Document', got %v", got.Title)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	got, err := testDB.GetDocument(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing document, got %+v", got)
	}
}

func TestUpdateDocumentExtraction(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 100)

	text := "extracted body " + strings.Repeat("word ", 50)
	updated, err := testDB.UpdateDocumentExtraction(ctx,
		models.MustRecordIDString(doc.ID),
		models.DocumentReady, &text, models.CountWords(text), 3)
	if err != nil {
		t.Fatalf("UpdateDocumentExtraction failed: %v", err)
	}

	if updated.ExtractedText == nil || *updated.ExtractedText != text {
		t.Error("Expected extracted text to be updated")
	}
	if updated.PagesExtracted != 3 {
		t.Errorf("Expected 3 pages extracted, got %d", updated.PagesExtracted)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("Expected updated_at to advance")
	}
}

// =============================================================================
// RUN LIFECYCLE TESTS
// =============================================================================

func TestCreateRun_Defaults(t *testing.T) {
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))

	if run.Status != models.RunPending {
		t.Errorf("Expected status pending, got %q", run.Status)
	}
	if run.TargetQuestions != 10 {
		t.Errorf("Expected target 10, got %d", run.TargetQuestions)
	}
	if run.QuestionsGenerated != 0 || run.WorkersCompleted != 0 {
		t.Error("Expected zeroed progress counters")
	}
	if run.PromptVersion != "mcq_v1" {
		t.Errorf("Expected prompt version mcq_v1, got %q", run.PromptVersion)
	}
}

func TestCreateRun_RejectsSecondActiveRun(t *testing.T) {
	doc := mustCreateDocument(t, 600)
	docID := models.MustRecordIDString(doc.ID)
	mustCreateRun(t, docID)

	_, err := testDB.CreateRun(context.Background(), models.RunInput{
		DocumentID:      docID,
		TargetQuestions: 5,
		Difficulty:      models.DifficultyEasy,
		PromptVersion:   "mcq_v1",
	})
	if err == nil {
		t.Fatal("Expected error for second active run")
	}
	if !errors.Is(err, ErrActiveRunExists) {
		t.Errorf("Expected ErrActiveRunExists, got %v", err)
	}
}

func TestCreateRun_AllowedAfterTerminal(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	docID := models.MustRecordIDString(doc.ID)

	first := mustCreateRun(t, docID)
	runID := models.MustRecordIDString(first.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if _, err := testDB.FinishRun(ctx, runID, RunResult{
		Status:    models.RunCompleted,
		Questions: sampleMCQs(2),
	}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	// A terminal run no longer blocks a new one.
	mustCreateRun(t, docID)
}

func TestMarkRunGenerating_StatusConflict(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	generating, err := testDB.MarkRunGenerating(ctx, runID, 1260)
	if err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}
	if generating.Status != models.RunGenerating {
		t.Errorf("Expected status generating, got %q", generating.Status)
	}
	if generating.TimeoutSec != 1260 {
		t.Errorf("Expected timeout 1260, got %d", generating.TimeoutSec)
	}

	// Second transition must fail, the run is no longer pending.
	if _, err := testDB.MarkRunGenerating(ctx, runID, 1260); err == nil {
		t.Fatal("Expected status conflict on double transition")
	}
}

func TestSetRunProgress_Monotonic(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	if _, err := testDB.MarkRunGenerating(ctx, runID, 1200); err != nil {
		t.Fatalf("MarkRunGenerating failed: %v", err)
	}

	if err := testDB.SetRunProgress(ctx, runID, 6, 2); err != nil {
		t.Fatalf("SetRunProgress failed: %v", err)
	}
	// A stale lower report must not move counters backwards.
	if err := testDB.SetRunProgress(ctx, runID, 3, 1); err != nil {
		t.Fatalf("SetRunProgress failed: %v", err)
	}

	got, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.QuestionsGenerated != 6 {
		t.Errorf("Expected questions_generated 6, got %d", got.QuestionsGenerated)
	}
	if got.WorkersCompleted != 2 {
		t.Errorf("Expected workers_completed 2, got %d", got.WorkersCompleted)
	}
}

func TestTouchRun_AdvancesLiveness(t *testing.T) {
	ctx := context.Background()
	doc := mustCreateDocument(t, 600)
	run := mustCreateRun(t, models.MustRecordIDString(doc.ID))
	runID := models.MustRecordIDString(run.ID)

	before, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := testDB.TouchRun(ctx, runID); err != nil {
		t.Fatalf("TouchRun failed: %v", err)
	}

	after, err := testDB.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("Expected updated_at to advance after touch")
	}
	if !after.LastActivity().After(before.LastActivity()) {
		t.Error("Expected LastActivity to advance after touch")
	}
}

// =============================================================================
// TOPIC TESTS
// =============================================================================

func TestSeedTopics_Idempotent(t *testing.T) {
	ctx := context.Background()

	topics, err := DefaultTopics()
	if err != nil {
		t.Fatalf("DefaultTopics failed: %v", err)
	}
	if len(topics) != 6 {
		t.Fatalf("Expected 6 default topics, got %d", len(topics))
	}

	if err := testDB.SeedTopics(ctx, topics); err != nil {
		t.Fatalf("SeedTopics failed: %v", err)
	}
	// Second seed must not duplicate.
	if err := testDB.SeedTopics(ctx, topics); err != nil {
		t.Fatalf("SeedTopics (second) failed: %v", err)
	}

	listed, err := testDB.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(listed) != 6 {
		t.Errorf("Expected 6 topics after double seed, got %d", len(listed))
	}
	if listed[0].Slug != "polity" {
		t.Errorf("Expected polity first by sort order, got %q", listed[0].Slug)
	}

	slugs, err := testDB.TopicSlugs(ctx)
	if err != nil {
		t.Fatalf("TopicSlugs failed: %v", err)
	}
	want := []string{"polity", "economy", "history", "geography", "science", "environment"}
	for i, s := range want {
		if slugs[i] != s {
			t.Errorf("slugs[%d] = %q, want %q", i, slugs[i], s)
		}
	}
}
