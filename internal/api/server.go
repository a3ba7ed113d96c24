package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/modelfleet/sentinel/internal/config"
	"github.com/modelfleet/sentinel/internal/failover"
)

// Server exposes the failover system over HTTP for operators and the
// request-routing layer.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	system     *failover.System
	registry   *prometheus.Registry

	requestCount int64
	startTime    time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, system *failover.System, registry *prometheus.Registry) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		system:    system,
		registry:  registry,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc("/api/v1/system/health", s.handleSystemHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/system/report", s.handleReport).Methods("GET")
	s.router.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")

	s.router.HandleFunc("/api/v1/models", s.handleRegisterModel).Methods("POST")
	s.router.HandleFunc("/api/v1/models/{id}/health", s.handleReportHealth).Methods("POST")
	s.router.HandleFunc("/api/v1/models/{id}/failure", s.handleModelFailure).Methods("POST")

	s.router.Use(s.loggingMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
