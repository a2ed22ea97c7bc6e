// Package db provides SurrealDB query functions for pipeline records.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/quizforge/quizforge/internal/models"
)

// StatusCount represents a run status with its count.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// RunTotals aggregates token and cost accounting across all runs.
type RunTotals struct {
	Runs             int     `json:"runs"`
	Questions        int     `json:"questions"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// ----------------------------------------------------------------------------
// Documents
// ----------------------------------------------------------------------------

// CreateDocument inserts a new document record.
func (c *Client) CreateDocument(ctx context.Context, input models.DocumentInput) (*models.Document, error) {
	status := input.Status
	if status == "" {
		status = models.DocumentPending
	}

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		CREATE document CONTENT {
			filename: $filename,
			title: $title,
			status: $status,
			extracted_text: $extracted_text,
			word_count: $word_count,
			page_count: $page_count,
			pages_extracted: 0
		} RETURN AFTER
	`, map[string]any{
		"filename":       input.Filename,
		"title":          input.Title,
		"status":         string(status),
		"extracted_text": input.ExtractedText,
		"word_count":     input.WordCount,
		"page_count":     input.PageCount,
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create document: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetDocument retrieves a document by ID.
// Returns nil if not found.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM type::record("document", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// UpdateDocumentExtraction records extraction output and the resulting
// document status.
func (c *Client) UpdateDocumentExtraction(
	ctx context.Context,
	id string,
	status models.DocumentStatus,
	extractedText *string,
	wordCount int,
	pagesExtracted int,
) (*models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		UPDATE type::record("document", $id) SET
			status = $status,
			extracted_text = $extracted_text,
			word_count = $word_count,
			pages_extracted = $pages_extracted,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":              id,
		"status":          string(status),
		"extracted_text":  extractedText,
		"word_count":      wordCount,
		"pages_extracted": pagesExtracted,
	})
	if err != nil {
		return nil, fmt.Errorf("update document extraction: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("update document extraction: %w", ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ListDocuments returns documents newest first.
func (c *Client) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM document ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Document{}, nil
	}
	return (*results)[0].Result, nil
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

// CreateRun creates a run in pending state. One active run per document:
// the transaction throws when a pending or generating run already exists
// for the same document, surfaced as ErrActiveRunExists.
func (c *Client) CreateRun(ctx context.Context, input models.RunInput) (*models.GenerationRun, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $dup = (
			SELECT count() AS c FROM generated_run
			WHERE document = type::record("document", $doc)
			  AND status IN ["pending", "generating"]
			GROUP ALL
		);
		IF $dup[0].c > 0 { THROW "active run exists for document" };
		CREATE generated_run CONTENT {
			document: type::record("document", $doc),
			title: $title,
			status: "pending",
			target_questions: $target,
			difficulty: $difficulty,
			prompt_version: $prompt_version,
			model: $model,
			export_result: $export,
			timeout_sec: $timeout_sec
		} RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{
		"doc":            input.DocumentID,
		"title":          input.Title,
		"target":         input.TargetQuestions,
		"difficulty":     string(input.Difficulty),
		"prompt_version": input.PromptVersion,
		"model":          input.Model,
		"export":         input.ExportResult,
		"timeout_sec":    input.TimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", wrapQueryError(err))
	}

	run := lastRunResult(results)
	if run == nil {
		return nil, fmt.Errorf("create run: no result returned")
	}
	return run, nil
}

// GetRun retrieves a run by ID.
// Returns nil if not found.
func (c *Client) GetRun(ctx context.Context, id string) (*models.GenerationRun, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		SELECT * FROM type::record("generated_run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ListRuns returns runs newest first, optionally filtered by document.
func (c *Client) ListRuns(ctx context.Context, documentID *string, limit int) ([]models.GenerationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT * FROM generated_run ORDER BY created_at DESC LIMIT $limit`
	vars := map[string]any{"limit": limit}
	if documentID != nil {
		sql = `SELECT * FROM generated_run WHERE document = type::record("document", $doc)
		       ORDER BY created_at DESC LIMIT $limit`
		vars["doc"] = *documentID
	}

	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.GenerationRun{}, nil
	}
	return (*results)[0].Result, nil
}

// MarkRunGenerating transitions pending -> generating and records the
// computed wall-clock budget. Throws status conflict when the run is no
// longer pending (for example cancelled before pickup).
func (c *Client) MarkRunGenerating(ctx context.Context, id string, timeoutSec int) (*models.GenerationRun, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $run = (SELECT * FROM ONLY type::record("generated_run", $id));
		IF $run == NONE { THROW "run not found" };
		IF $run.status != "pending" { THROW "status conflict: run is " + $run.status };
		UPDATE type::record("generated_run", $id) SET
			status = "generating",
			timeout_sec = $timeout_sec,
			updated_at = time::now()
		RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{"id": id, "timeout_sec": timeoutSec})
	if err != nil {
		return nil, fmt.Errorf("mark run generating: %w", wrapQueryError(err))
	}

	run := lastRunResult(results)
	if run == nil {
		return nil, fmt.Errorf("mark run generating: no result returned")
	}
	return run, nil
}

// TouchRun refreshes the run's liveness timestamp so the staleness sweep
// does not reclaim a run that is still progressing.
func (c *Client) TouchRun(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("generated_run", $id) SET updated_at = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("touch run: %w", wrapQueryError(err))
	}
	return nil
}

// SetRunProgress updates progress counters while generating. Counters
// never go backwards.
func (c *Client) SetRunProgress(ctx context.Context, id string, questionsGenerated, workersCompleted int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("generated_run", $id) SET
			questions_generated = math::max([questions_generated, $questions]),
			workers_completed = math::max([workers_completed, $workers]),
			updated_at = time::now()
		WHERE status = "generating"
	`, map[string]any{
		"id":        id,
		"questions": questionsGenerated,
		"workers":   workersCompleted,
	})
	if err != nil {
		return fmt.Errorf("set run progress: %w", wrapQueryError(err))
	}
	return nil
}

// RunResult is the terminal outcome persisted by FinishRun.
type RunResult struct {
	Status           models.RunStatus
	Questions        []models.MCQ
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD *float64
	FailureReason    *string
	PartialReason    *string
}

// FinishRun atomically persists the selected questions and the terminal
// status in one transaction. The transaction throws when the run is no
// longer generating, so a cancellation that raced the pipeline wins and
// nothing is persisted.
func (c *Client) FinishRun(ctx context.Context, id string, result RunResult) (*models.GenerationRun, error) {
	questions := make([]map[string]any, len(result.Questions))
	for i, q := range result.Questions {
		options := make([]map[string]any, len(q.Options))
		for j, o := range q.Options {
			options[j] = map[string]any{"label": o.Label, "text": o.Text}
		}
		questions[i] = map[string]any{
			"sort_order":     i,
			"question":       q.Stem,
			"options":        options,
			"correct_option": q.CorrectOption,
			"explanation":    q.Explanation,
			"difficulty":     q.Difficulty,
			"topic_tag":      q.TopicTag,
			"critique":       q.Critique,
			"quality_score":  q.QualityScore,
		}
	}

	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $run = (SELECT * FROM ONLY type::record("generated_run", $id));
		IF $run == NONE { THROW "run not found" };
		IF $run.status != "generating" { THROW "status conflict: run is " + $run.status };
		FOR $q IN $questions {
			CREATE question CONTENT {
				run: type::record("generated_run", $id),
				sort_order: $q.sort_order,
				question: $q.question,
				options: $q.options,
				correct_option: $q.correct_option,
				explanation: $q.explanation,
				difficulty: $q.difficulty,
				topic_tag: $q.topic_tag,
				critique: $q.critique,
				quality_score: $q.quality_score
			};
		};
		UPDATE type::record("generated_run", $id) SET
			status = $status,
			questions_generated = $count,
			input_tokens = $input_tokens,
			output_tokens = $output_tokens,
			estimated_cost_usd = $cost,
			failure_reason = $failure_reason,
			partial_reason = $partial_reason,
			updated_at = time::now()
		RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":             id,
		"status":         string(result.Status),
		"questions":      questions,
		"count":          len(questions),
		"input_tokens":   result.InputTokens,
		"output_tokens":  result.OutputTokens,
		"cost":           result.EstimatedCostUSD,
		"failure_reason": result.FailureReason,
		"partial_reason": result.PartialReason,
	})
	if err != nil {
		return nil, fmt.Errorf("finish run: %w", wrapQueryError(err))
	}

	run := lastRunResult(results)
	if run == nil {
		return nil, fmt.Errorf("finish run: no result returned")
	}
	return run, nil
}

// FailRun marks a run failed without persisting questions. Used when the
// pipeline errors before any selection exists. Cancelled runs keep their
// cancelled status.
func (c *Client) FailRun(ctx context.Context, id string, status models.RunStatus, reason string) (*models.GenerationRun, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $run = (SELECT * FROM ONLY type::record("generated_run", $id));
		IF $run == NONE { THROW "run not found" };
		IF $run.status IN ["pending", "generating"] {
			UPDATE type::record("generated_run", $id) SET
				status = $status,
				failure_reason = $reason,
				updated_at = time::now()
			RETURN AFTER;
		} ELSE {
			SELECT * FROM type::record("generated_run", $id);
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":     id,
		"status": string(status),
		"reason": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("fail run: %w", wrapQueryError(err))
	}

	run := lastRunResult(results)
	if run == nil {
		return nil, fmt.Errorf("fail run: no result returned")
	}
	return run, nil
}

// CancelRun requests cancellation. Idempotent: a run already in any
// terminal state is returned unchanged.
func (c *Client) CancelRun(ctx context.Context, id string) (*models.GenerationRun, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $run = (SELECT * FROM ONLY type::record("generated_run", $id));
		IF $run == NONE { THROW "run not found" };
		IF $run.status IN ["pending", "generating"] {
			UPDATE type::record("generated_run", $id) SET
				status = "cancelled",
				failure_reason = $reason,
				updated_at = time::now()
			RETURN AFTER;
		} ELSE {
			SELECT * FROM type::record("generated_run", $id);
		};
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":     id,
		"reason": "Cancelled by user",
	})
	if err != nil {
		return nil, fmt.Errorf("cancel run: %w", wrapQueryError(err))
	}

	run := lastRunResult(results)
	if run == nil {
		return nil, fmt.Errorf("cancel run: no result returned")
	}
	return run, nil
}

// ClearStaleRuns sweeps active runs whose liveness timestamp is older
// than their timeout budget and marks them failed_timeout. Returns the
// number of runs swept. Staleness uses the later of created_at and
// updated_at.
func (c *Client) ClearStaleRuns(ctx context.Context, defaultTimeout time.Duration) (int, error) {
	results, err := surrealdb.Query[[]models.GenerationRun](ctx, c.db, `
		UPDATE generated_run SET
			status = "failed_timeout",
			failure_reason = "Run timed out (stale sweep)",
			updated_at = time::now()
		WHERE status IN ["pending", "generating"]
		  AND (IF updated_at > created_at THEN updated_at ELSE created_at END)
		      + duration::from::secs(IF timeout_sec > 0 THEN timeout_sec ELSE $default_sec END)
		      < time::now()
		RETURN AFTER
	`, map[string]any{"default_sec": int(defaultTimeout.Seconds())})
	if err != nil {
		return 0, fmt.Errorf("clear stale runs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// RunStatusCounts returns run counts grouped by status.
func (c *Client) RunStatusCounts(ctx context.Context) ([]StatusCount, error) {
	results, err := surrealdb.Query[[]StatusCount](ctx, c.db, `
		SELECT status, count() AS count FROM generated_run GROUP BY status ORDER BY count DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("run status counts: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []StatusCount{}, nil
	}
	return (*results)[0].Result, nil
}

// RunTotalsAggregate sums token usage, cost, and question count across
// all runs.
func (c *Client) RunTotalsAggregate(ctx context.Context) (*RunTotals, error) {
	results, err := surrealdb.Query[[]RunTotals](ctx, c.db, `
		SELECT
			count() AS runs,
			math::sum(questions_generated) AS questions,
			math::sum(input_tokens) AS input_tokens,
			math::sum(output_tokens) AS output_tokens,
			math::sum(estimated_cost_usd ?? 0.0) AS estimated_cost_usd
		FROM generated_run GROUP ALL
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("run totals: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return &RunTotals{}, nil
	}
	return &(*results)[0].Result[0], nil
}

// ----------------------------------------------------------------------------
// Questions
// ----------------------------------------------------------------------------

// ListQuestions returns a run's questions in sort order.
func (c *Client) ListQuestions(ctx context.Context, runID string) ([]models.Question, error) {
	results, err := surrealdb.Query[[]models.Question](ctx, c.db, `
		SELECT * FROM question
		WHERE run = type::record("generated_run", $run)
		ORDER BY sort_order ASC
	`, map[string]any{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Question{}, nil
	}
	return (*results)[0].Result, nil
}

// AppendQuestion inserts a manual question at the next free sort slot.
func (c *Client) AppendQuestion(ctx context.Context, runID string, input models.QuestionInput) (*models.Question, error) {
	options := make([]map[string]any, len(input.Options))
	for i, o := range input.Options {
		options[i] = map[string]any{"label": o.Label, "text": o.Text}
	}

	results, err := surrealdb.Query[[]models.Question](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $run = (SELECT * FROM ONLY type::record("generated_run", $run_id));
		IF $run == NONE { THROW "run not found" };
		LET $max = (
			SELECT math::max(sort_order) AS m FROM question
			WHERE run = type::record("generated_run", $run_id) GROUP ALL
		);
		LET $next = IF array::len($max) > 0 THEN $max[0].m + 1 ELSE 0 END;
		CREATE question CONTENT {
			run: type::record("generated_run", $run_id),
			sort_order: $next,
			question: $question,
			options: $options,
			correct_option: $correct_option,
			explanation: $explanation,
			difficulty: $difficulty,
			topic_tag: $topic_tag
		} RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{
		"run_id":         runID,
		"question":       input.Stem,
		"options":        options,
		"correct_option": input.CorrectOption,
		"explanation":    input.Explanation,
		"difficulty":     input.Difficulty,
		"topic_tag":      input.TopicTag,
	})
	if err != nil {
		return nil, fmt.Errorf("append question: %w", wrapQueryError(err))
	}

	q := lastQuestionResult(results)
	if q == nil {
		return nil, fmt.Errorf("append question: no result returned")
	}
	return q, nil
}

// UpdateQuestion applies a faculty edit to one persisted question.
func (c *Client) UpdateQuestion(ctx context.Context, id string, input models.QuestionInput) (*models.Question, error) {
	options := make([]map[string]any, len(input.Options))
	for i, o := range input.Options {
		options[i] = map[string]any{"label": o.Label, "text": o.Text}
	}

	results, err := surrealdb.Query[[]models.Question](ctx, c.db, `
		UPDATE type::record("question", $id) SET
			question = $question,
			options = $options,
			correct_option = $correct_option,
			explanation = $explanation,
			difficulty = $difficulty,
			topic_tag = $topic_tag,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":             id,
		"question":       input.Stem,
		"options":        options,
		"correct_option": input.CorrectOption,
		"explanation":    input.Explanation,
		"difficulty":     input.Difficulty,
		"topic_tag":      input.TopicTag,
	})
	if err != nil {
		return nil, fmt.Errorf("update question: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("update question: %w", ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ----------------------------------------------------------------------------
// Result helpers
// ----------------------------------------------------------------------------

// lastRunResult extracts the final non-empty statement result from a
// multi-statement query. Transactions return one result per statement,
// the run we want comes from the last UPDATE or SELECT.
func lastRunResult(results *[]surrealdb.QueryResult[[]models.GenerationRun]) *models.GenerationRun {
	if results == nil {
		return nil
	}
	for i := len(*results) - 1; i >= 0; i-- {
		if len((*results)[i].Result) > 0 {
			return &(*results)[i].Result[0]
		}
	}
	return nil
}

func lastQuestionResult(results *[]surrealdb.QueryResult[[]models.Question]) *models.Question {
	if results == nil {
		return nil
	}
	for i := len(*results) - 1; i >= 0; i-- {
		if len((*results)[i].Result) > 0 {
			return &(*results)[i].Result[0]
		}
	}
	return nil
}
