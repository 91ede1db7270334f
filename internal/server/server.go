// Package server provides the HTTP server and routing for Herald.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/metrics"
	"github.com/heraldlabs/herald/internal/modules/configs"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/principals"
	"github.com/heraldlabs/herald/internal/modules/trades"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
)

// Config holds everything the server needs to route requests.
type Config struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	Clock      clock.Clock
	RegistryDB *database.DB
	IntakeDB   *database.DB
	LedgerDB   *database.DB
	CacheDB    *database.DB

	Intake     *intake.Service
	Alerts     *intake.Repository
	Configs    *configs.Repository
	Principals *principals.Repository
	Trades     *trades.Repository
	UserAlerts *useralerts.Repository

	Metrics *metrics.Registry
	Events  *events.Bus
}

// Server is the HTTP boundary: webhook intake, the admin API, health and
// metrics endpoints, and the live event stream.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	clock    clock.Clock
	draining atomic.Bool

	registryDB *database.DB
	intakeDB   *database.DB
	ledgerDB   *database.DB
	cacheDB    *database.DB

	intake     *intake.Service
	alerts     *intake.Repository
	configs    *configs.Repository
	principals *principals.Repository
	trades     *trades.Repository
	userAlerts *useralerts.Repository

	metrics *metrics.Registry
	events  *events.Bus

	startupTime time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Cfg,
		clock:       cfg.Clock,
		registryDB:  cfg.RegistryDB,
		intakeDB:    cfg.IntakeDB,
		ledgerDB:    cfg.LedgerDB,
		cacheDB:     cfg.CacheDB,
		intake:      cfg.Intake,
		alerts:      cfg.Alerts,
		configs:     cfg.Configs,
		principals:  cfg.Principals,
		trades:      cfg.Trades,
		userAlerts:  cfg.UserAlerts,
		metrics:     cfg.Metrics,
		events:      cfg.Events,
		startupTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	// Health checks (outside /api, probed by orchestration)
	s.router.Get("/health", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	// Webhook intake
	s.router.Post("/webhook", s.handleWebhook)

	// Admin API
	s.router.Route("/api", func(r chi.Router) {
		// Live event stream (websocket) before the JSON routes
		streamHandler := NewEventsStreamHandler(s.events, s.log)
		r.Get("/events/stream", streamHandler.ServeHTTP)

		r.Get("/metrics", s.handleMetrics)
		r.Get("/system/stats", s.handleSystemStats)

		r.Route("/configs", func(r chi.Router) {
			r.Get("/", s.handleListConfigs)
			r.Post("/", s.handleCreateConfig)
			r.Get("/{id}", s.handleGetConfig)
			r.Put("/{id}", s.handleUpdateConfig)
			r.Put("/{id}/status", s.handleSetConfigStatus)
			r.Delete("/{id}", s.handleDeleteConfig)
		})

		r.Route("/principals", func(r chi.Router) {
			r.Get("/", s.handleListPrincipals)
			r.Put("/{userID}", s.handleUpsertPrincipal)
			r.Get("/{userID}", s.handleGetPrincipal)
			r.Delete("/{userID}", s.handleDeletePrincipal)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListIncomingAlerts)
			r.Get("/counts", s.handleIncomingAlertCounts)
			r.Get("/{id}", s.handleGetIncomingAlert)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", s.handleListTrades)
			r.Get("/counts", s.handleTradeCounts)
			r.Get("/{tradeNumber}", s.handleGetTrade)
			r.Post("/{tradeNumber}/close", s.handleCloseTrade)
		})

		r.Route("/useralerts", func(r chi.Router) {
			r.Get("/", s.handleListUserAlerts)
			r.Post("/", s.handleCreateUserAlert)
			r.Get("/{id}", s.handleGetUserAlert)
			r.Put("/{id}", s.handleUpdateUserAlert)
			r.Delete("/{id}", s.handleDeleteUserAlert)
			r.Post("/{id}/pause", s.handlePauseUserAlert)
			r.Post("/{id}/resume", s.handleResumeUserAlert)
		})
	})
}

// Router exposes the mux for httptest.
func (s *Server) Router() http.Handler { return s.router }

// BeginDrain makes the webhook endpoint refuse new work with 503 while
// in-flight processing finishes. Admin reads keep working.
func (s *Server) BeginDrain() {
	s.draining.Store(true)
	s.log.Info().Msg("Server draining, webhook intake closed")
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
