// Package server provides the HTTP JSON API and the websocket run
// watcher.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/models"
	"github.com/quizforge/quizforge/internal/service"
)

// Store is the persistence surface the handlers use directly.
// *db.Client satisfies it; run lifecycle operations go through RunAPI
// instead.
type Store interface {
	CreateDocument(ctx context.Context, input models.DocumentInput) (*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]models.Document, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)
	RunStatusCounts(ctx context.Context) ([]db.StatusCount, error)
	RunTotalsAggregate(ctx context.Context) (*db.RunTotals, error)
	AppendQuestion(ctx context.Context, runID string, input models.QuestionInput) (*models.Question, error)
	UpdateQuestion(ctx context.Context, id string, input models.QuestionInput) (*models.Question, error)
}

// RunAPI is the run lifecycle surface. *service.RunService satisfies it.
type RunAPI interface {
	StartRun(ctx context.Context, req service.StartRunRequest) (*models.GenerationRun, error)
	GetStatus(ctx context.Context, runID string) (*service.RunStatusInfo, error)
	GetResult(ctx context.Context, runID string) (*service.RunResultView, error)
	Cancel(ctx context.Context, runID string) (*models.GenerationRun, error)
	ListRuns(ctx context.Context, documentID *string, limit int) ([]models.GenerationRun, error)
}

// Server is the HTTP API server.
type Server struct {
	store   Store
	runs    RunAPI
	metrics *metrics.Collector
	logger  *slog.Logger
	addr    string
}

// New creates the API server.
func New(store Store, runs RunAPI, collector *metrics.Collector, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   store,
		runs:    runs,
		metrics: collector,
		logger:  logger,
		addr:    addr,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)

	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/status", s.handleRunStatus)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /runs/{id}/watch", s.handleWatchRun)
	mux.HandleFunc("POST /runs/{id}/questions", s.handleAppendQuestion)
	mux.HandleFunc("PATCH /questions/{id}", s.handleUpdateQuestion)

	mux.HandleFunc("GET /topics", s.handleListTopics)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return LoggingMiddleware(s.logger)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type createDocumentRequest struct {
	Title    *string `json:"title,omitempty"`
	Filename *string `json:"filename,omitempty"`
	Text     string  `json:"text"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	input := models.DocumentInput{
		Title:    req.Title,
		Filename: req.Filename,
		Status:   models.DocumentPending,
	}
	if req.Text != "" {
		input.Status = models.DocumentReady
		input.ExtractedText = &req.Text
		input.WordCount = models.CountWords(req.Text)
	}

	start := time.Now()
	doc, err := s.store.CreateDocument(r.Context(), input)
	s.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if doc == nil {
		s.writeError(w, http.StatusNotFound, errors.New("document not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req service.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	run, err := s.runs.StartRun(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var documentID *string
	if d := r.URL.Query().Get("document_id"); d != "" {
		documentID = &d
	}
	runs, err := s.runs.ListRuns(r.Context(), documentID, queryInt(r, "limit", 50))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.runs.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.runs.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAppendQuestion(w http.ResponseWriter, r *http.Request) {
	var input models.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	q, err := s.store.AppendQuestion(r.Context(), r.PathValue("id"), input)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var input models.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	q, err := s.store.UpdateQuestion(r.Context(), r.PathValue("id"), input)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.store.ListTopics(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, topics)
}

type statsResponse struct {
	Runtime   metrics.Snapshot `json:"runtime"`
	RunCounts []db.StatusCount `json:"run_counts"`
	Totals    *db.RunTotals    `json:"totals,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	counts, err := s.store.RunStatusCounts(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	totals, err := s.store.RunTotalsAggregate(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))

	s.writeJSON(w, http.StatusOK, statsResponse{
		Runtime:   s.metrics.Snapshot(),
		RunCounts: counts,
		Totals:    totals,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeStoreError maps domain errors onto HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, db.ErrActiveRunExists),
		errors.Is(err, db.ErrStatusConflict),
		errors.Is(err, db.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrInvalidTarget):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrDocumentNotReady):
		s.writeError(w, http.StatusPreconditionFailed, err)
	case errors.Is(err, service.ErrNoCredential):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}
