package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-remediate/internal/config"
)

// AdminServer serves the engine's HTTP surface: liveness and readiness
// probes, prometheus metrics, and the read-mostly /api/v1 endpoints backed
// by the ledger, the execution store, and the live rule pack.
type AdminServer struct {
	handlers *Handlers
	router   *mux.Router
	server   *http.Server
	logger   *slog.Logger
}

// NewAdminServer builds the router and binds it to the configured address.
func NewAdminServer(cfg config.ServerConfig, handlers *Handlers, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &AdminServer{
		handlers: handlers,
		router:   mux.NewRouter(),
		logger:   logger,
	}
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *AdminServer) routes() {
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handlers.Ready).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handlers.Status).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handlers.Audit).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handlers.ListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handlers.GetExecution).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handlers.Rules).Methods(http.MethodGet)
	api.HandleFunc("/rules/stats", s.handlers.RuleStats).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", s.handlers.PushSnapshot).Methods(http.MethodPost)

	s.router.Use(s.logRequests)
}

// Start serves HTTP requests until Shutdown is invoked.
func (s *AdminServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("admin server not initialised")
	}
	return s.server.ListenAndServe()
}

// Shutdown drains open connections until the context expires.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *AdminServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
