// Package http serves the expense book JSON API, operational probes and
// the offline-cached app shell.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"spesebook/internal/log"
	"spesebook/internal/metrics"
	"spesebook/internal/middleware/ratelimit"
	"spesebook/internal/middleware/security"
	"spesebook/internal/middleware/trace"
	"spesebook/internal/offline"
)

type Server struct {
	http.Server
	ledger   Ledger
	offline  *offline.Controller
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	shutdownOnce sync.Once
}

// ServerConfig wires the server's dependencies. Offline and Metrics may be
// nil: without Offline unknown paths are 404, without Metrics /metrics is
// not mounted.
type ServerConfig struct {
	Addr               string
	Ledger             Ledger
	Offline            *offline.Controller
	Metrics            *metrics.Metrics
	Logger             *log.Logger
	RateLimitPerMinute int
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		ledger:   cfg.Ledger,
		offline:  cfg.Offline,
		detector: security.NewDetector(),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		logger:   logger.WithComponent(log.ComponentHTTP),
	}

	var recorder trace.Recorder
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP, recorder)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(security.Headers(security.DefaultHeadersConfig()))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP))
		r.Use(security.NoStore)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Get("/{id}", s.handleGetGroup)
			r.Delete("/{id}", s.handleDeleteGroup)
			r.Post("/{id}/recompute", s.handleRecomputeGroup)
			r.Get("/{id}/entries", s.handleListEntries)
			r.Post("/{id}/entries", s.handleCreateEntry)
		})

		r.Route("/entries/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetEntry)
			r.Patch("/", s.handleUpdateEntry)
			r.Delete("/", s.handleDeleteEntry)
			r.Post("/duplicate", s.handleDuplicateEntry)
		})

		r.Get("/categories", s.handleListCategories)
		r.Post("/categories", s.handleCreateCategory)
		r.Delete("/categories/{id}", s.handleDeleteCategory)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "no such endpoint")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		})
	})

	// Everything else is the app shell, answered cache first.
	if s.offline != nil {
		r.NotFound(s.offline.ServeHTTP)
	}

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
