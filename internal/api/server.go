// Package api provides the HTTP API of the cyberguard dashboard backend.
// It wires authentication, dashboard queries, scan control and the scan
// event stream onto a gorilla/mux router.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/cyberguard/cyberguard/internal/api/handlers"
	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/config"
	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/metrics"
	"github.com/cyberguard/cyberguard/internal/scan"
	"github.com/cyberguard/cyberguard/internal/store"
)

// Server timeout constants.
const (
	defaultShutdownTimeout = 30 * time.Second
	limiterCleanupInterval = 5 * time.Minute
)

// Dependencies are the services the API exposes.
type Dependencies struct {
	Store     store.Store
	Gate      *auth.Gate
	Dashboard *dashboard.Service
	Scans     *scan.Manager
	// Metrics may be nil when metrics are disabled.
	Metrics *metrics.PrometheusMetrics
	Build   apihandlers.BuildInfo
	Logger  *slog.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	logger     *slog.Logger
	websocket  *apihandlers.WebSocketHandler

	loginLimiter *middleware.RateLimiter
	apiLimiter   *middleware.RateLimiter

	stopOnce sync.Once
	stopErr  error
}

// New creates a new API server instance and subscribes its websocket
// stream to scan events.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Gate == nil || deps.Dashboard == nil || deps.Scans == nil {
		return nil, fmt.Errorf("api: store, gate, dashboard and scan manager are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	s := &Server{
		router: mux.NewRouter(),
		config: cfg,
		logger: logger,
	}
	if cfg.RateLimit.Enabled {
		s.loginLimiter = middleware.NewRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)
		s.apiLimiter = middleware.NewRateLimiter(cfg.RateLimit.APIRPS, cfg.RateLimit.APIBurst)
	}

	s.setupRoutes(deps)
	s.handler = s.wrapHandler(s.router)

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s, nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(deps Dependencies) {
	var recorder metrics.Recorder = metrics.Nop{}
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	maxSize := s.config.Server.MaxRequestSize

	authHandler := apihandlers.NewAuthHandler(deps.Gate, apihandlers.CookieConfig{
		Name:   s.config.Session.CookieName,
		Secure: s.config.Session.SecureCookie,
	}, recorder, s.logger).WithMaxRequestSize(maxSize)
	dashboardHandler := apihandlers.NewDashboardHandler(deps.Dashboard, s.logger)
	adminHandler := apihandlers.NewAdminHandler(deps.Gate, deps.Dashboard, s.logger).WithMaxRequestSize(maxSize)
	scanHandler := apihandlers.NewScanHandler(deps.Scans, s.logger).WithMaxRequestSize(maxSize)
	healthHandler := apihandlers.NewHealthHandler(deps.Store, deps.Build, s.logger)

	s.websocket = apihandlers.NewWebSocketHandler(s.config.Server.AllowedOrigins, s.logger)
	deps.Scans.Subscribe(s.websocket)

	s.router.Use(
		middleware.RequestID(),
		middleware.Recovery(s.logger),
		middleware.Logging(s.logger),
		middleware.Metrics(recorder),
		middleware.SecurityHeaders(),
		middleware.ContentType(),
	)
	s.router.NotFoundHandler = http.HandlerFunc(notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	if deps.Metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path,
			promhttp.HandlerFor(deps.Metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Session(deps.Gate.Sessions(), s.config.Session.CookieName, s.logger))

	// Public endpoints
	var login http.Handler = http.HandlerFunc(authHandler.Login)
	if s.loginLimiter != nil {
		login = middleware.RateLimit(s.loginLimiter, s.logger, func(*http.Request) {
			recorder.RecordLogin(apihandlers.LoginRateLimited)
		})(login)
	}
	api.Handle("/auth/login", login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)
	api.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", healthHandler.Version).Methods(http.MethodGet)

	// Session-protected endpoints. The guard wraps each route rather than a
	// path-less subrouter so method mismatches on public routes still reach
	// the 405 handler.
	protect := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if s.apiLimiter != nil {
			next = middleware.RateLimit(s.apiLimiter, s.logger, nil)(next)
		}
		return middleware.RequireSession()(next)
	}

	api.Handle("/auth/me", protect(authHandler.Me)).Methods(http.MethodGet)
	api.Handle("/dashboard", protect(dashboardHandler.Summary)).Methods(http.MethodGet)
	api.Handle("/dashboard/severity", protect(dashboardHandler.Severity)).Methods(http.MethodGet)
	api.Handle("/devices", protect(dashboardHandler.Devices)).Methods(http.MethodGet)
	api.Handle("/open-ports", protect(dashboardHandler.OpenPorts)).Methods(http.MethodGet)
	api.Handle("/cves", protect(dashboardHandler.CVEs)).Methods(http.MethodGet)
	api.Handle("/users", protect(adminHandler.ListUsers)).Methods(http.MethodGet)
	api.Handle("/users", protect(adminHandler.CreateUser)).Methods(http.MethodPost)
	api.Handle("/scan", protect(scanHandler.CreateScan)).Methods(http.MethodPost)
	api.Handle("/scan/{id}", protect(scanHandler.GetScan)).Methods(http.MethodGet)
	api.Handle("/scans", protect(scanHandler.ListScans)).Methods(http.MethodGet)
	api.Handle("/ws/scans", protect(s.websocket.ScanWebSocket)).Methods(http.MethodGet)
}

// wrapHandler applies the handlers that must see every request, matched or
// not.
func (s *Server) wrapHandler(h http.Handler) http.Handler {
	if origins := s.config.Server.AllowedOrigins; len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.RequestIDHeader}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
			handlers.AllowCredentials(),
		)(h)
	}
	if s.config.Server.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}
	return h
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, errors.CodeNotFound, "Endpoint not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusMethodNotAllowed, errors.CodeValidation,
		fmt.Sprintf("Method %s not allowed", r.Method))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// WebSocket returns the scan event stream handler.
func (s *Server) WebSocket() *apihandlers.WebSocketHandler {
	return s.websocket
}

// Start serves until ctx is done, then shuts down gracefully. It also
// runs the rate limiter cleanup loops.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	for _, l := range []*middleware.RateLimiter{s.loginLimiter, s.apiLimiter} {
		if l != nil {
			go func(l *middleware.RateLimiter) { _ = l.Run(cleanupCtx, limiterCleanupInterval) }(l)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.websocket.Shutdown()
		return err
	}
}

// Stop gracefully stops the API server. Open websocket streams are closed
// before in-flight requests are drained.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping API server")

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.websocket.Shutdown()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", "error", err)
			s.stopErr = fmt.Errorf("server shutdown failed: %w", err)
			return
		}
		s.logger.Info("API server stopped successfully")
	})
	return s.stopErr
}
