// Package control implements the Control Surface (spec §4.H): the
// REST/WebSocket boundary through which an operator manages jobs,
// reads aggregate stats and the Event Bus, and configures routing.
// Grounded on internal/api/server.go's ControlServer — the same
// chi.Mux plus middleware-chain shape, generalized from a single
// loopback-only AI interface to the orchestrator's one and only
// outward-facing API, and on original_source/backend/web_app's route
// set and token_required decorator, reimplemented with
// github.com/dgrijalva/jwt-go bearer tokens instead of Flask's pyjwt.
package control

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"project-tachyon/internal/audit"
	"project-tachyon/internal/config"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/urlintake"
)

// Server is the Control Surface. Unlike the teacher's ControlServer,
// which gated itself behind a loopback+feature-flag check meant for a
// local AI assistant, this Server is the orchestrator's primary
// client-facing API and binds to every interface its operator
// configures.
type Server struct {
	store    *storage.Store
	cfg      *config.Manager
	bus      *eventbus.Bus
	registry *jobs.Registry
	routing  *routing.Table
	urls     *urlintake.Intake
	audit    *audit.Logger
	metrics  *metrics.Registry
	logger   *slog.Logger

	router *chi.Mux
	hub    *hub
}

// New builds a Server and wires its routes. Call Start to listen.
func New(
	store *storage.Store,
	cfg *config.Manager,
	bus *eventbus.Bus,
	registry *jobs.Registry,
	rt *routing.Table,
	urls *urlintake.Intake,
	auditLogger *audit.Logger,
	metricsRegistry *metrics.Registry,
	logger *slog.Logger,
) *Server {
	s := &Server{
		store:    store,
		cfg:      cfg,
		bus:      bus,
		registry: registry,
		routing:  rt,
		urls:     urls,
		audit:    auditLogger,
		metrics:  metricsRegistry,
		logger:   logger,
		router:   chi.NewRouter(),
	}
	s.hub = newHub(bus)
	s.setupRoutes()
	return s
}

// Start listens on the configured control port. Blocks until the
// listener fails or is closed.
func (s *Server) Start() error {
	port := s.cfg.GetControlPort()
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("control surface listening", "addr", addr)

	conn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control surface failed to bind %s: %w", addr, err)
	}
	return http.Serve(conn, s.router)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.auditMiddleware)

	s.router.Post("/auth/login", s.handleLogin)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/auth/verify", s.handleVerifyToken)
		r.Post("/auth/password", s.handleUpdatePassword)

		r.Get("/downloads", s.handleListDownloads)
		r.Get("/stats", s.handleStats)
		r.Post("/retry", s.handleRetry)
		r.Post("/stop", s.handleStop)
		r.Post("/delete", s.handleDelete)

		r.Post("/url/check", s.handleURLCheck)
		r.Post("/url/download", s.handleURLDownload)

		r.Get("/mappings", s.handleListMappings)
		r.Post("/mappings", s.handleUpsertMapping)
		r.Delete("/mappings/{id}", s.handleDeleteMapping)

		r.Get("/video/check/{id}", s.handleVideoCheck)
	})

	// The stream and event-channel endpoints authenticate via a
	// query-string token (spec §6) since <video>/<audio> elements and
	// the browser WebSocket API cannot set arbitrary headers, so
	// neither sits behind the header-only authMiddleware group above.
	s.router.Get("/video/stream/{id}", s.tokenQueryAuth(s.handleVideoStream))
	s.router.Get("/ws/events", s.tokenQueryAuth(s.hub.serveWS))

	s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)
	s.router.With(s.authMiddleware).Get("/audit", s.handleAuditLog)
}

// auditMiddleware logs every request's outcome via the shared Audit
// Logger, grounded on the teacher's inline s.audit.Log calls scattered
// through securityMiddleware and each handler — collapsed here into
// one wrapper so every route gets an audit entry uniformly.
func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		action := r.Method + " " + r.URL.Path
		s.audit.Log(sourceIP, r.UserAgent(), action, rec.status, "")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
