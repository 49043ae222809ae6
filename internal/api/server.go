// Package api provides the HTTP REST surface for the evaluation and
// remediation service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/evalsvc/docreview/internal/diagnostics"
	"github.com/evalsvc/docreview/internal/sse"
)

// JobSubmitter is the subset of the Job Manager the HTTP surface needs:
// admitting new evaluation/remediation jobs and looking up or cancelling
// existing ones. Kept as an interface so the server can be built and tested
// before the Job Manager's concrete implementation exists.
type JobSubmitter interface {
	SubmitEvaluation(ctx context.Context, repositoryURL string, options map[string]interface{}) (jobID string, err error)
	SubmitRemediation(ctx context.Context, evaluationID string, issues []interface{}, targetAgent, provider string) (remediationID string, err error)
	Status(jobID string) (interface{}, bool)
	Cancel(jobID string) error
}

// Server provides HTTP endpoints for submitting evaluation/remediation jobs
// and streaming their progress.
type Server struct {
	router          chi.Router
	logger          *slog.Logger
	jobs            JobSubmitter
	sseHandler      *sse.Handler
	resourceMonitor *diagnostics.ResourceMonitor
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithJobSubmitter wires the Job Manager into the HTTP surface.
func WithJobSubmitter(jobs JobSubmitter) ServerOption {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithSSEHandler wires the SSE streaming handler.
func WithSSEHandler(h *sse.Handler) ServerOption {
	return func(s *Server) {
		s.sseHandler = h
	}
}

// WithResourceMonitor sets the resource monitor for deep health checks.
func WithResourceMonitor(monitor *diagnostics.ResourceMonitor) ServerOption {
	return func(s *Server) {
		s.resourceMonitor = monitor
	}
}

// NewServer creates a new API server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the chi router with middleware and routes.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/health/deep", s.handleDeepHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", s.handleSubmitEvaluation)
		r.Post("/evaluate/batch", s.handleSubmitEvaluationBatch)
		r.Get("/evaluate/{id}", s.handleGetJobStatus)
		r.Delete("/evaluate/{id}", s.handleCancelJob)
		r.Get("/evaluate/{id}/stream", s.handleStreamJob)

		r.Get("/evaluations/{id}", s.handleGetEvaluation)
		r.Post("/evaluations/import", s.handleImportEvaluation)

		r.Post("/remediation/execute", s.handleSubmitRemediation)
		r.Get("/remediation/{id}", s.handleGetRemediationStatus)
		r.Get("/remediation/{id}/patch", s.handleGetRemediationPatch)
		r.Delete("/remediation/{id}", s.handleCancelJob)
		r.Post("/remediation/{id}/evaluate", s.handleRemediationFollowupEvaluate)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"code": code, "error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// DeepHealthResponse contains detailed health information.
type DeepHealthResponse struct {
	Status    string                         `json:"status"`
	Time      string                         `json:"time"`
	Resources *diagnostics.ResourceSnapshot  `json:"resources,omitempty"`
	Trend     *diagnostics.ResourceTrend     `json:"trend,omitempty"`
	Warnings  []diagnostics.HealthWarning    `json:"warnings,omitempty"`
}

func (s *Server) handleDeepHealth(w http.ResponseWriter, _ *http.Request) {
	response := DeepHealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	if s.resourceMonitor != nil {
		snapshot := s.resourceMonitor.TakeSnapshot()
		response.Resources = &snapshot

		trend := s.resourceMonitor.GetTrend()
		response.Trend = &trend

		warnings := s.resourceMonitor.CheckHealth()
		response.Warnings = warnings

		if !trend.IsHealthy {
			response.Status = "degraded"
		}
		for _, warn := range warnings {
			if warn.Level == "critical" {
				response.Status = "critical"
				break
			} else if warn.Level == "warning" && response.Status == "healthy" {
				response.Status = "degraded"
			}
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// ListenAndServe starts the HTTP server with graceful shutdown on ctx
// cancellation.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	return srv.ListenAndServe()
}
