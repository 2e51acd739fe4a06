// Package server exposes the resolver over HTTP as a small JSON API.
//
// Two routes are served: POST /resolve runs a full resolution for a set of
// requirement strings, and GET /healthz reports liveness. Every request is
// tagged with a generated request ID for log correlation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akx/pipimi/pkg/registry"
	"github.com/akx/pipimi/pkg/registry/pypi"
	"github.com/akx/pipimi/pkg/resolver"
)

// Server handles resolution requests over HTTP. The registry client (and
// its durable cache) is shared across requests; each request gets its own
// in-memory resolution universe.
type Server struct {
	client  *pypi.Client
	logger  *log.Logger
	workers int
}

// New creates a server over the given registry client. workers bounds the
// per-round fetch parallelism of each resolution.
func New(client *pypi.Client, logger *log.Logger, workers int) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{client: client, logger: logger, workers: workers}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)
	r.Get("/healthz", s.handleHealth)
	r.Post("/resolve", s.handleResolve)
	return r
}

type resolveRequest struct {
	Requirements []string `json:"requirements"`
	Refresh      bool     `json:"refresh,omitempty"`
}

type resolveResponse struct {
	ID          string              `json:"id"`
	Resolution  map[string]string   `json:"resolution"`
	Constraints map[string][]string `json:"constraints"`
	Rounds      int                 `json:"rounds"`
}

type errorResponse struct {
	Error       string   `json:"error"`
	Package     string   `json:"package,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if len(req.Requirements) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no requirements given"})
		return
	}

	engine := resolver.New(resolver.NewUniverse(s.client), resolver.Options{
		Workers: s.workers,
		Refresh: req.Refresh,
		Logger:  s.logger.Debugf,
	})

	st, err := engine.Seed(req.Requirements)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := engine.Run(r.Context(), st)
	if err != nil {
		writeError(w, err)
		return
	}

	constraints := make(map[string][]string, len(result.Constraints))
	for name, set := range result.Constraints {
		constraints[name] = set.Strings()
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		ID:          requestID(r),
		Resolution:  result.Resolution,
		Constraints: constraints,
		Rounds:      result.Rounds,
	})
}

func writeError(w http.ResponseWriter, err error) {
	var malformed *resolver.MalformedRequirementError
	if errors.As(err, &malformed) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: malformed.Error()})
		return
	}
	var unsat *resolver.UnsatisfiableError
	if errors.As(err, &unsat) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:       unsat.Error(),
			Package:     unsat.Package,
			Constraints: unsat.Constraints,
		})
		return
	}
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrNetwork):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey int

const requestIDKey ctxKey = 0

// requestLog assigns each request an ID, echoes it in the X-Request-ID
// response header and logs method, path, status and duration.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := contextWithRequestID(r.Context(), id)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))
		s.logger.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
