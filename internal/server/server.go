// Package server exposes the lattice solver as an HTTP and JSON-RPC 2.0
// job service. Submitted problems run in the background; clients poll
// their status and may cancel them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/latticeopt/internal/config"
	"github.com/copyleftdev/latticeopt/internal/logging"
	"github.com/copyleftdev/latticeopt/internal/metrics"
	"github.com/copyleftdev/latticeopt/internal/models"
	"github.com/copyleftdev/latticeopt/internal/optimization"
	"github.com/copyleftdev/latticeopt/internal/problem"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC server for the solve service.
// It manages solve jobs and provides endpoints to start, monitor, and
// cancel them.
type Server struct {
	cfg       *config.Config
	logger    Logger
	solverLog *zap.Logger
	metrics   *metrics.Metrics

	baseCtx context.Context
	stop    context.CancelFunc
	slots   chan struct{}
	wg      sync.WaitGroup

	jobs map[string]*job
	mu   sync.RWMutex // Protects jobs and their mutable fields
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments jobs and solves with m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new server instance with the given config and logger.
// At most cfg.Lattice.MaxJobs jobs run at once.
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	maxJobs := cfg.Lattice.MaxJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		solverLog: logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "solver"})),
		baseCtx:   ctx,
		stop:      stop,
		slots:     make(chan struct{}, maxJobs),
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func zapJobID(id string) zap.Field {
	return zap.String("job_id", id)
}

func sortViews(views []JobView) {
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].StartTime.Equal(views[j].StartTime) {
			return views[i].ID < views[j].ID
		}
		return views[i].StartTime.Before(views[j].StartTime)
	})
}

// RegisterRoutes mounts the REST and JSON-RPC endpoints on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/solve/{id}", s.handleCancel)
		r.Get("/jobs", s.handleJobs)
		r.Get("/models", s.handleModels)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every running job and waits for them to stop.
func (s *Server) Close() error {
	s.stop()
	s.wg.Wait()
	return nil
}

// httpStatus maps service errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, optimization.ErrConfiguration),
		errors.Is(err, optimization.ErrSyntax),
		errors.Is(err, optimization.ErrSymbol):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLogger returns the request-scoped logger installed by
// logging.Middleware, or the server logger when there is none.
func (s *Server) requestLogger(r *http.Request) Logger {
	if logging.HasLogger(r.Context()) {
		return logging.FromContext(r.Context())
	}
	return s.logger
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		fields := map[string]interface{}{"error": err.Error()}
		if oe, ok := optimization.IsOptimizationError(err); ok {
			fields["component"] = oe.Component
			fields["operation"] = oe.Op
		}
		s.requestLogger(r).Error("Request failed", fields)
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// handleSolve handles POST /api/v1/solve: the body is a problem
// definition in JSON.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, optimization.WrapError(optimization.ErrConfiguration, err, "reading request body"))
		return
	}
	def, err := problem.DecodeJSON(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.Submit(*def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancel handles DELETE /api/v1/solve/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(StatusCancelled),
	})
}

// handleJobs handles GET /api/v1/jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.Jobs()})
}

// handleModels handles GET /api/v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models.Names()})
}
