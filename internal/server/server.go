// Package server exposes the orchestration core over a JSON REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/health"
	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/memory"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/orchestrator"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/schema"
)

// maxBodyBytes bounds request bodies, including /rag/index chunks.
const maxBodyBytes = 1 << 20

// Deps are the components behind the endpoints.
type Deps struct {
	Service   *orchestrator.Service
	Engine    *retrieval.Engine
	Sessions  *memory.Sessions
	Templates *methodology.Cache
	Health    *health.Checker
	Validator *schema.Validator
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger

	SearchLimit int
}

// Server is the HTTP front of the tutor.
type Server struct {
	d          Deps
	logger     zerolog.Logger
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg config.ServerConfig, d Deps) *Server {
	if d.Validator == nil {
		d.Validator = schema.NewValidator()
	}
	if d.SearchLimit <= 0 {
		d.SearchLimit = 5
	}
	s := &Server{d: d, logger: logging.Component(d.Logger, "server"), startTime: time.Now()}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed and instrumented mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /ask", s.askHandler)
	s.handle(mux, "POST /rag/index", s.indexHandler)
	s.handle(mux, "POST /rag/search", s.searchHandler)
	s.handle(mux, "GET /rag/stats", s.statsHandler)
	s.handle(mux, "POST /cognitive/analyze", s.analyzeHandler)
	s.handle(mux, "POST /cognitive/validate-solution", s.validateSolutionHandler)
	s.handle(mux, "GET /memory/state", s.memoryStateHandler)
	s.handle(mux, "DELETE /memory/state", s.endSessionHandler)
	s.handle(mux, "POST /memory/consolidate", s.consolidateHandler)
	s.handle(mux, "GET /templates", s.templatesHandler)
	s.handle(mux, "POST /templates/invalidate", s.invalidateHandler)
	s.handle(mux, "GET /health", s.healthHandler)

	gatherer := s.d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the status code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		if s.d.Metrics != nil {
			s.d.Metrics.RequestCount.WithLabelValues(r.Method, pattern, fmt.Sprint(rec.status)).Inc()
			s.d.Metrics.RequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())
		}
		s.logger.Debug().
			Str("route", pattern).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}
