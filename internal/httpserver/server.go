package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/strata/internal/config"
)

// Checker reports whether a dependency is reachable. Implementations wrap
// whichever storage/queue backend the deployment selected (Postgres pool,
// bbolt handle, Redis client, Mongo client, RabbitMQ connection).
type Checker interface {
	Check(r *http.Request) error
}

// CheckerFunc adapts a plain function to the Checker interface.
type CheckerFunc func(r *http.Request) error

// Check implements Checker.
func (f CheckerFunc) Check(r *http.Request) error { return f(r) }

// Server holds the HTTP server scaffolding shared by every deployment mode:
// middleware, health/metrics endpoints, and CORS. Domain handlers are
// mounted onto Router by the caller (see internal/casapi).
type Server struct {
	Router      *chi.Mux
	Logger      *slog.Logger
	Metrics     *prometheus.Registry
	ReadyChecks map[string]Checker
	startedAt   time.Time
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints wired. readyChecks maps a dependency name (e.g. "database",
// "redis") to a Checker consulted by /readyz; pass nil or an empty map in
// embedded/single-process deployments with nothing external to ping.
func NewServer(cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry, readyChecks map[string]Checker) *Server {
	s := &Server{
		Router:      chi.NewRouter(),
		Logger:      logger,
		Metrics:     metricsReg,
		ReadyChecks: readyChecks,
		startedAt:   time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Request-ID",
			"X-AWP-Pubkey", "X-AWP-Timestamp", "X-AWP-Signature",
		},
		ExposedHeaders:   []string{"X-Request-ID", "X-CAS-Kind", "X-CAS-Size", "X-CAS-Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/api/health", s.handleHealthz)

	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for name, checker := range s.ReadyChecks {
		if err := checker.Check(r); err != nil {
			s.Logger.Error("readiness check failed", "dependency", name, "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", name+" not ready")
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
