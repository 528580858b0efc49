// Package api provides the HTTP API server for the control plane.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/denhq/control-plane/internal/api/handlers"
	"github.com/denhq/control-plane/internal/api/health"
	"github.com/denhq/control-plane/internal/api/middleware"
	"github.com/denhq/control-plane/internal/auth"
	"github.com/denhq/control-plane/internal/credentials"
	"github.com/denhq/control-plane/internal/exporter"
	"github.com/denhq/control-plane/internal/gate"
	"github.com/denhq/control-plane/internal/lifecycle"
	"github.com/denhq/control-plane/internal/registry"
	"github.com/denhq/control-plane/internal/store"
	"github.com/denhq/control-plane/internal/subdomains"
	"github.com/denhq/control-plane/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Services bundles the domain services the server fronts.
type Services struct {
	Auth        *auth.Service
	Registry    *registry.Service
	Gate        *gate.Service
	Lifecycle   *lifecycle.Service
	Subdomains  *subdomains.Service
	Resolver    *subdomains.Resolver
	Credentials *credentials.Service
	Exporter    *exporter.Service
}

// Server is the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         store.Store
	services      Services
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, st store.Store, svcs Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:    st,
		services: svcs,
		config:   cfg,
		logger:   logger,
	}

	var pinger health.Pinger
	if p, ok := st.(health.Pinger); ok {
		pinger = p
	}
	s.healthChecker = health.NewChecker(pinger, Version)

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())

	session := middleware.NewSessionAuth(s.services.Auth, s.store, s.logger)

	userHandler := handlers.NewUserHandler(s.logger)
	containerHandler := handlers.NewContainerHandler(s.services.Lifecycle, s.logger)
	subdomainHandler := handlers.NewSubdomainHandler(s.services.Subdomains, s.logger)
	aupHandler := handlers.NewAUPHandler(s.services.Gate, s.logger)
	sshHandler := handlers.NewSSHHandler(s.services.Credentials, s.logger)

	// User surface. The gate check lives in the services, not here; only
	// authentication is a routing concern.
	r.Route("/user", func(r chi.Router) {
		r.Use(session.Authenticate)

		r.Get("/me", userHandler.Me)

		r.Get("/container", containerHandler.Get)
		r.Post("/container", containerHandler.Ensure)
		r.Post("/container/ports/new", containerHandler.NewPort)

		r.Get("/api/subdomains", subdomainHandler.List)
		r.Post("/subdomains", subdomainHandler.Create)
		r.Delete("/subdomains/{id}", subdomainHandler.Delete)

		r.Get("/aup/questions", aupHandler.Questions)
		r.Post("/aup/accept", aupHandler.Accept)

		r.Post("/ssh-setup", sshHandler.Setup)
	})

	// Admin surface: bypasses the gate, requires the admin flag.
	adminHandler := handlers.NewAdminHandler(s.store, s.services.Registry, s.services.Lifecycle, s.services.Exporter, s.logger)
	r.Route("/admin", func(r chi.Router) {
		r.Use(session.Authenticate)
		r.Use(middleware.RequireAdmin)

		r.Get("/nodes", adminHandler.ListNodes)
		r.Post("/nodes", adminHandler.RegisterNode)
		r.Delete("/nodes/{id}", adminHandler.DeleteNode)
		r.Get("/nodes/{id}/token", adminHandler.RotateNodeToken)

		r.Get("/users", adminHandler.ListUsers)
		r.Delete("/users/{id}", adminHandler.DeleteUser)
		r.Delete("/users/{id}/container", adminHandler.DeleteUserContainer)
		r.Post("/users/{id}/export", adminHandler.ExportUser)
		r.Get("/exports/{id}", adminHandler.GetExport)
	})

	// Node agent surface. Heartbeat authenticates inline so the touch and
	// the token check share one path; the rest uses the node middleware.
	agentHandler := handlers.NewAgentHandler(s.store, s.services.Registry, s.services.Resolver, s.logger)
	r.Route("/api", func(r chi.Router) {
		r.Post("/nodes/heartbeat", agentHandler.Heartbeat)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NodeAuth(s.services.Registry, s.logger))
			r.Post("/containers/{id}/status", agentHandler.ContainerStatus)
			r.Get("/resolve/{name}", agentHandler.Resolve)
		})
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
