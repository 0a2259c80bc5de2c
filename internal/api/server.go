package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waveline/callrelay/internal/api/middleware"
	"github.com/waveline/callrelay/internal/config"
	"github.com/waveline/callrelay/internal/database"
)

// RelayStats exposes live relay counters for the stats endpoint.
type RelayStats interface {
	ConnectedUserCount() int
	ActiveCallCount() int
	SignalsForwarded() uint64
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	cfg       *config.Config
	records   database.CallRecordRepository
	relay     RelayStats
	jwtSecret []byte

	apiLimiter  *middleware.IPRateLimiter
	authLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. wsHandler is
// the signaling websocket endpoint; promRegistry may be nil to disable the
// metrics endpoint.
func NewServer(
	cfg *config.Config,
	records database.CallRecordRepository,
	relay RelayStats,
	jwtSecret []byte,
	wsHandler http.Handler,
	promRegistry *prometheus.Registry,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		records:     records,
		relay:       relay,
		jwtSecret:   jwtSecret,
		apiLimiter:  middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter: middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes(wsHandler, promRegistry)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background goroutines owned by the server.
func (s *Server) Close() {
	s.apiLimiter.Stop()
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes(wsHandler http.Handler, promRegistry *prometheus.Registry) {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled()))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	// Signaling websocket. The handler authenticates the handshake itself
	// since browsers cannot set headers on websocket upgrades.
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}

	if promRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	// API routes under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.apiLimiter))

		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.With(middleware.RateLimit(s.authLimiter)).Post("/auth/token", s.handleToken)

		// Protected routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Route("/calls", func(r chi.Router) {
				r.Get("/history", s.handleListHistory)
				r.Get("/export", s.handleExportHistory)
				r.Post("/", s.handleCreateCallRecord)
				r.Get("/room/{roomName}", s.handleGetCallByRoom)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCallRecord)
					r.Put("/", s.handleUpdateCallRecord)
				})
			})

			r.Get("/stats", s.handleStats)
		})
	})

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns live relay counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected_users":   s.relay.ConnectedUserCount(),
		"active_calls":      s.relay.ActiveCallCount(),
		"signals_forwarded": s.relay.SignalsForwarded(),
	})
}
