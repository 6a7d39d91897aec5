// Package server provides the HTTP server and routing for rateintel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/di"
	"github.com/aristath/rateintel/internal/work"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Jobs      *di.JobInstances
	Port      int
	DevMode   bool
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
	jobs      *di.JobInstances
	port      int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		jobs:      cfg.Jobs,
		port:      cfg.Port,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Training and event streams outlive a short write timeout; routes bound their own.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	forecasting := NewForecastingHandlers(
		s.container.ForecastService,
		s.container.RatesRepo,
		s.container.EventManager,
		s.container.WorkCompletion,
		s.container.WorkProcessor,
		s.log,
	)
	system := NewSystemHandlers(s.container, s.jobs, s.log)
	var originPatterns []string
	if s.cfg != nil {
		originPatterns = s.cfg.WebSocketOrigins
	}
	stream := NewEventsStreamHandler(s.container.EventBus, originPatterns, s.log)

	workHandlers := work.NewHandlers(s.container.WorkProcessor, s.container.WorkRegistry, s.container.WorkCompletion)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams are long-lived and must not sit behind the request timeout
		r.Get("/events/stream", stream.ServeHTTP)
		r.Get("/events/ws", stream.ServeWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Minute))

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", system.HandleSystemStatus)
				r.Get("/database/stats", system.HandleDatabaseStats)
				r.Post("/jobs/retrain", system.HandleTriggerRetrain)
				r.Post("/jobs/check-database", system.HandleTriggerCheckDatabase)
				r.Post("/jobs/backup", system.HandleTriggerBackup)
				r.Post("/jobs/maintenance", system.HandleTriggerMaintenance)
				r.Get("/backups", system.HandleListBackups)
			})

			forecasting.RegisterRoutes(r)
			workHandlers.RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
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
