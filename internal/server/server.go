// Package server exposes the inbound HTTP surface: job creation and the
// reporting callback the external task engine posts to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/creator"
	"github.com/tasklab/fanin/pkg/report"
)

// Server routes HTTP requests to the creator, reporter, and store.
type Server struct {
	creator  *creator.Creator
	reporter *report.Reporter
	store    core.Store
	logger   *slog.Logger
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server and mounts its routes.
func New(c *creator.Creator, r *report.Reporter, store core.Store, opts ...Option) *Server {
	s := &Server{
		creator:  c,
		reporter: r,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", s.handleHealth)
	mux.Route("/v1", func(v1 chi.Router) {
		v1.Post("/jobs", s.handleCreateJob)
		v1.Get("/jobs/{id}", s.handleGetJob)
		v1.Post("/reports/success", s.handleReportSuccess)
		v1.Post("/reports/failure", s.handleReportFailure)
	})
	s.router = mux
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

type createJobRequest struct {
	SubtaskIDs []string          `json:"subtaskIds"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type successReport struct {
	JobID     string    `json:"jobId"`
	SubtaskID string    `json:"subtaskId"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// failureReport carries the raw error payload untouched; the reporter
// normalizes whatever shape the engine produced.
type failureReport struct {
	JobID      string          `json:"jobId"`
	SubtaskIDs []string        `json:"subtaskIds,omitempty"`
	Error      json.RawMessage `json:"error"`
	RetryCount int             `json:"retryCount,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := s.creator.CreateJob(r.Context(), req.SubtaskIDs, req.Metadata)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleReportSuccess(w http.ResponseWriter, r *http.Request) {
	var req successReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.reporter.ReportSuccess(r.Context(), req.JobID, req.SubtaskID, req.Timestamp); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	var req failureReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The error payload may be any shape, but it must be present.
	if len(req.Error) == 0 {
		s.writeError(w, http.StatusBadRequest, "error payload is required")
		return
	}
	if err := s.reporter.ReportFailure(r.Context(), req.JobID, req.SubtaskIDs, req.Error, req.RetryCount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEmptyJobID),
		errors.Is(err, core.ErrEmptySubtaskID),
		errors.Is(err, core.ErrNoSubtasks),
		errors.Is(err, core.ErrTooManySubtasks),
		errors.Is(err, core.ErrInvalidID),
		errors.Is(err, core.ErrIDTooLong),
		errors.Is(err, core.ErrMetadataTooLarge):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
