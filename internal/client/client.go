// Package client provides an HTTP client for the quizforge server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizforge/quizforge/internal/models"
	"github.com/quizforge/quizforge/internal/service"
)

// Client is an HTTP client for the quizforge server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses QUIZFORGE_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via QUIZFORGE_CLIENT_TIMEOUT env var (default 10m for
// long-running generation requests).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("QUIZFORGE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 10 * time.Minute
	if t := os.Getenv("QUIZFORGE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// do sends a JSON request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// CreateDocumentInput is the input for uploading pasted text as a document.
type CreateDocumentInput struct {
	Title    *string `json:"title,omitempty"`
	Filename *string `json:"filename,omitempty"`
	Text     string  `json:"text"`
}

// CreateDocument uploads a document.
func (c *Client) CreateDocument(ctx context.Context, input CreateDocumentInput) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodPost, "/documents", input, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument retrieves a document by ID.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns recent documents.
func (c *Client) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	path := "/documents"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var docs []models.Document
	if err := c.do(ctx, http.MethodGet, path, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// StartRun submits a generation run.
func (c *Client) StartRun(ctx context.Context, req service.StartRunRequest) (*models.GenerationRun, error) {
	var run models.GenerationRun
	if err := c.do(ctx, http.MethodPost, "/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns recent runs, optionally filtered by document.
func (c *Client) ListRuns(ctx context.Context, documentID string, limit int) ([]models.GenerationRun, error) {
	q := url.Values{}
	if documentID != "" {
		q.Set("document_id", documentID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []models.GenerationRun
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun retrieves a run with its questions (questions are empty until
// the run reaches a terminal state).
func (c *Client) GetRun(ctx context.Context, id string) (*service.RunResultView, error) {
	var result service.RunResultView
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRunStatus retrieves the lightweight progress view of a run.
func (c *Client) GetRunStatus(ctx context.Context, id string) (*service.RunStatusInfo, error) {
	var status service.RunStatusInfo
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelRun cancels a pending or generating run.
func (c *Client) CancelRun(ctx context.Context, id string) (*models.GenerationRun, error) {
	var run models.GenerationRun
	if err := c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(id)+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// AppendQuestion adds a question to a terminal run (faculty manual fill).
func (c *Client) AppendQuestion(ctx context.Context, runID string, input models.QuestionInput) (*models.Question, error) {
	var q models.Question
	if err := c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/questions", input, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// UpdateQuestion edits a persisted question.
func (c *Client) UpdateQuestion(ctx context.Context, id string, input models.QuestionInput) (*models.Question, error) {
	var q models.Question
	if err := c.do(ctx, http.MethodPatch, "/questions/"+url.PathEscape(id), input, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// ListTopics returns the topic taxonomy.
func (c *Client) ListTopics(ctx context.Context) ([]models.Topic, error) {
	var topics []models.Topic
	if err := c.do(ctx, http.MethodGet, "/topics", nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

// Stats mirrors the /stats response.
type Stats struct {
	Runtime   json.RawMessage `json:"runtime"`
	RunCounts []StatusCount   `json:"run_counts"`
	Totals    *RunTotals      `json:"totals,omitempty"`
}

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

// GetStats returns server statistics.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WatchRun connects to the run watch websocket and invokes onStatus for
// each status frame until the run reaches a terminal state. Return an
// error from onStatus to abort the watch.
func (c *Client) WatchRun(
	ctx context.Context,
	runID string,
	onStatus func(status *service.RunStatusInfo) error,
) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/runs/" + url.PathEscape(runID) + "/watch"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
			}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var status service.RunStatusInfo
		if err := conn.ReadJSON(&status); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read status: %w", err)
		}

		if err := onStatus(&status); err != nil {
			return err
		}

		if status.Status.Terminal() {
			return nil
		}
	}
}
