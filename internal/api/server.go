package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certflow/internal/api/handler"
	mw "github.com/edvin/certflow/internal/api/middleware"
	"github.com/edvin/certflow/internal/config"
	"github.com/edvin/certflow/internal/db"
	"github.com/edvin/certflow/internal/workflow"
)

// Pool is the certflow state database. *pgxpool.Pool satisfies it.
type Pool interface {
	db.DB
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	pool           Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
	auditLogger    *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, pool Pool, temporalClient temporalclient.Client, cfg *config.Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		pool:           pool,
		temporalClient: temporalClient,
		cfg:            cfg,
		auditLogger:    mw.NewAuditLogger(pool, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))
		r.Use(s.auditLogger.Middleware)

		cert := handler.NewCertificate(s.temporalClient, s.cfg.TemporalTaskQueue, workflow.OrderOptionsFromConfig(s.cfg))
		r.With(mw.RequireScope("certificates", "write")).Post("/resources/{resourceID}/certificates", cert.Issue)

		wf := handler.NewWorkflow(s.temporalClient)
		r.With(mw.RequireScope("certificates", "read")).Get("/workflows/{workflowID}", wf.Get)

		renewal := handler.NewRenewal(s.temporalClient, s.cfg.TemporalTaskQueue, workflow.RenewalParamsFromConfig(s.cfg))
		r.With(mw.RequireScope("renewals", "write")).Post("/renewals", renewal.Start)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["state_db"] = err.Error()
		healthy = false
	} else {
		checks["state_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close flushes pending audit entries.
func (s *Server) Close() {
	s.auditLogger.Close()
}
