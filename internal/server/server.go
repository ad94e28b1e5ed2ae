// Package server exposes the schema design workflow over HTTP: streamed
// chat turns, replay of interrupted runs, background job status, health
// and Prometheus metrics.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/schemaflow/internal/jobs"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/workflow"
)

// DefaultRequestTimeout bounds one chat or replay request.
const DefaultRequestTimeout = 5 * time.Minute

// Config wires a Server. Executor, Jobs and Repo are required.
type Config struct {
	Executor *workflow.Executor
	Jobs     jobs.Queue[workflow.Params, workflow.State]
	Repo     repository.SchemaRepository

	// Registry receives the HTTP collectors and is served on /metrics.
	// Defaults to a new registry.
	Registry *prometheus.Registry
	Logger   *slog.Logger

	RequestTimeout time.Duration
	Stream         workflow.StreamOptions
}

type Server struct {
	executor  *workflow.Executor
	streaming *workflow.StreamingWorkflow
	jobs      jobs.Queue[workflow.Params, workflow.State]
	repo      repository.SchemaRepository
	registry  *prometheus.Registry
	metrics   *httpMetrics
	logger    *slog.Logger
	timeout   time.Duration
	stream    workflow.StreamOptions
}

// New validates cfg and builds a Server. Missing dependencies are an error.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Executor == nil {
		errs = append(errs, errors.New("server: executor is required"))
	}
	if cfg.Jobs == nil {
		errs = append(errs, errors.New("server: job queue is required"))
	}
	if cfg.Repo == nil {
		errs = append(errs, errors.New("server: repository is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Server{
		executor: cfg.Executor,
		jobs:     cfg.Jobs,
		repo:     cfg.Repo,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		timeout:  cfg.RequestTimeout,
		stream:   cfg.Stream,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	s.metrics = newHTTPMetrics(s.registry)
	s.streaming = workflow.NewStreamingWorkflow(cfg.Jobs, s.logger)
	return s, nil
}

// Handler returns the routed handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	// Full paths on the root router so a method mismatch answers 405.
	router.HandleFunc("/api/chat/stream", s.handleChatStream).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/replay", s.handleReplay).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}/signals/{name}", s.handleSignal).Methods(http.MethodPost)
	router.HandleFunc("/api/queries", s.handleListQueries).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}/queries/{name}", s.handleQuery).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

// instrument logs and records every request under its route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		duration := time.Since(start)
		s.metrics.observe(r.Method, endpoint, wrapped.status, duration)
		s.logger.Info("http request",
			"method", r.Method,
			"endpoint", endpoint,
			"status", wrapped.status,
			"duration_ms", duration.Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status before passing it on.
func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
