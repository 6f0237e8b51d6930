package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskboard/internal/auth"
	"taskboard/internal/core"
	"taskboard/internal/monitor"
	"taskboard/internal/store"
	"taskboard/internal/watch"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures the HTTP API server.
type Options struct {
	Addr         string
	AuthToken    string
	Verifier     *auth.Verifier
	Store        *store.Store
	Scheduler    *watch.Scheduler
	Monitor      *monitor.Monitor
	MCPHandler   http.Handler
	Logger       *slog.Logger
	Location     *time.Location
	DefaultScope core.WatchScope
}

// Server holds the HTTP server state.
type Server struct {
	httpServer   *http.Server
	router       *chi.Mux
	store        *store.Store
	scheduler    *watch.Scheduler
	monitor      *monitor.Monitor
	mcpHandler   http.Handler
	logger       *slog.Logger
	location     *time.Location
	authToken    string
	verifier     *auth.Verifier
	defaultScope core.WatchScope
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	location := opts.Location
	if location == nil {
		location = time.Local
	}
	mon := opts.Monitor
	if mon == nil {
		mon = monitor.New(nil)
	}
	scope := opts.DefaultScope
	if scope == "" {
		scope = core.WatchScopeMonth
	}

	s := &Server{
		router:       router,
		store:        opts.Store,
		scheduler:    opts.Scheduler,
		monitor:      mon,
		mcpHandler:   opts.MCPHandler,
		logger:       opts.Logger,
		location:     location,
		authToken:    opts.AuthToken,
		verifier:     opts.Verifier,
		defaultScope: scope,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	authenticate := AuthMiddleware(s.authToken, s.verifier)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.mcpHandler != nil {
		s.router.With(authenticate).Handle("/mcp", s.mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/cron/preview", s.handleCronPreview)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/events", s.handleAppendTaskEvent)
			})
		})

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/alarms", s.handleAlarms)
			r.Get("/velocity", s.handleVelocity)
			r.Get("/workload", s.handleWorkload)
			r.Get("/dashboard", s.handleDashboard)
		})

		r.Get("/profile", s.handleGetProfile)
		r.Post("/profile/link", s.handleLinkProfile)
		r.Get("/employees", s.handleListEmployees)
		r.Post("/employees", s.handleCreateEmployee)
		r.Get("/employees/unlinked", s.handleListUnlinked)
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)

		r.Route("/watches", func(r chi.Router) {
			r.Get("/", s.handleListWatches)
			r.Post("/", s.handleCreateWatch)

			r.Route("/{watchID}", func(r chi.Router) {
				r.Get("/", s.handleGetWatch)
				r.Patch("/", s.handleUpdateWatch)
				r.Delete("/", s.handleDeleteWatch)
				r.Post("/run", s.handleRunWatch)
				r.Get("/passes", s.handleListPasses)
			})
		})

		r.Get("/passes/{passID}", s.handleGetPass)
	})
}
