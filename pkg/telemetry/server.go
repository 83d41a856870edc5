package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/identity"
	"github.com/todoencadena/agentfabric/internal/metrics"
	"github.com/todoencadena/agentfabric/pkg/store"
)

// ServerConfig configures the telemetry HTTP server
type ServerConfig struct {
	Host     string
	Port     int
	CacheTTL time.Duration
}

// Server exposes the run telemetry read API
type Server struct {
	aggregator *Aggregator
	cache      *listCache
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	http       *http.Server
}

// NewServer creates the telemetry server. Metrics may be nil; the /metrics
// endpoint is then omitted.
func NewServer(cfg ServerConfig, aggregator *Aggregator, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		aggregator: aggregator,
		cache:      newListCache(cfg.CacheTTL),
		metrics:    m,
		logger:     logger,
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/agents/{agentID}/runs", s.handleListRuns)
	r.Get("/agents/{agentID}/runs/{runID}", s.handleRunDetail)

	return r
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Telemetry server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route tree for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	cacheable := q.From.IsZero() && q.To.IsZero()
	if cacheable {
		if runs, ok := s.cache.get(q); ok {
			writeData(w, http.StatusOK, runs)
			return
		}
	}

	runs, err := s.aggregator.ListRuns(r.Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", q.AgentID).Msg("Run listing failed")
		writeError(w, http.StatusInternalServerError, "aggregation_failed", "could not aggregate runs")
		return
	}

	if cacheable {
		s.cache.put(q, runs)
	}
	writeData(w, http.StatusOK, runs)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	runID := chi.URLParam(r, "runID")

	detail, err := s.aggregator.RunDetail(r.Context(), q, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run_not_found", "no records for run "+runID)
			return
		}
		s.logger.Error().Err(err).Str("run_id", runID).Msg("Run detail failed")
		writeError(w, http.StatusInternalServerError, "aggregation_failed", "could not aggregate run")
		return
	}
	writeData(w, http.StatusOK, detail)
}

// parseListQuery reads the query parameters shared by both endpoints.
// roomId accepts either a local room id or a central channel id; central
// ids are mapped through the deterministic identity derivation.
func parseListQuery(r *http.Request) (ListQuery, error) {
	q := ListQuery{
		AgentID: chi.URLParam(r, "agentID"),
		Status:  r.URL.Query().Get("status"),
	}
	if q.AgentID == "" {
		return q, fmt.Errorf("agent id is required")
	}

	if roomID := r.URL.Query().Get("roomId"); roomID != "" {
		if _, err := uuid.Parse(roomID); err != nil {
			roomID = identity.RoomID(q.AgentID, roomID)
		}
		q.RoomID = roomID
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = limit
	}

	var err error
	if q.From, err = parseTime(r.URL.Query().Get("from")); err != nil {
		return q, err
	}
	if q.To, err = parseTime(r.URL.Query().Get("to")); err != nil {
		return q, err
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q, want RFC3339", raw)
	}
	return t, nil
}

// envelope is the response wrapper shared by all endpoints
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &envelopeError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs every request with its status and latency
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
