// Package server exposes the login endpoint and the allow-list admin API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"ipauth/internal/admin"
	"ipauth/internal/auth"
	"ipauth/internal/config"
	"ipauth/internal/core/errors"
	"ipauth/internal/core/pipeline"
	"ipauth/internal/guard"
	"ipauth/internal/logging"
	"ipauth/internal/metrics"
	"ipauth/internal/ratelimit"
	"ipauth/internal/store"
)

// Server wires the authentication pipeline and the admin editor to HTTP.
type Server struct {
	config   *config.Config
	router   *mux.Router
	logger   *logging.Logger
	metrics  *metrics.Collector
	store    store.Store
	pipeline *pipeline.Pipeline
	editor   *admin.Editor
	tokens   *auth.TokenIssuer
	limiter  *ratelimit.Limiter
	server   *http.Server
	proxies  []netip.Prefix

	mu       sync.Mutex
	shutdown chan struct{}
}

// Dependencies contains everything required to create a Server
type Dependencies struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Store   store.Store
}

// New creates a Server. Metrics are optional.
func New(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.NewConfigError("config is required", nil)
	}
	if deps.Logger == nil {
		return nil, errors.NewConfigError("logger is required", nil)
	}
	if deps.Store == nil {
		return nil, errors.NewConfigError("store is required", nil)
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}

	cfg := deps.Config
	proxies, err := cfg.Security.TrustedProxyPrefixes()
	if err != nil {
		return nil, errors.NewConfigError("invalid trusted proxies", err)
	}
	s := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		store:    deps.Store,
		editor:   admin.New(deps.Store, deps.Logger, deps.Metrics),
		tokens:   auth.NewTokenIssuer(cfg.Security.Jwt.Secret, cfg.Security.Jwt.Issuer, cfg.Security.Jwt.TTLDuration()),
		proxies:  proxies,
		shutdown: make(chan struct{}),
	}
	s.pipeline = pipeline.New(
		pipeline.NewCredentialStage(deps.Store, deps.Logger),
		guard.New(deps.Store, deps.Logger, deps.Metrics),
	)
	if rl := cfg.Security.LoginRateLimit; rl.Enabled {
		s.limiter = ratelimit.New(rl.RequestsPerSecond, rl.Burst)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Info("Server initialized",
		logging.Strings("stages", s.pipeline.Stages()),
		logging.Bool("rate_limit", s.limiter != nil),
	)
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.metricsHandler).Methods(http.MethodGet)

	var login http.Handler = http.HandlerFunc(s.loginHandler)
	if s.limiter != nil {
		login = s.rateLimitMiddleware(login)
	}
	s.router.Handle("/login", login).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/v1/admin").Subrouter()
	api.Use(s.requireAdministrator)
	api.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.getAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", s.updateAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/allowed-ips", s.getAllowedIPs).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/allowed-ips", s.putAllowedIPs).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/allowed-ips", s.deleteAllowedIPs).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	if s.config.Server.EnableLogging {
		s.router.Use(s.loggingMiddleware())
	}
	s.router.Use(s.metricsMiddleware())
	s.router.Use(s.securityHeadersMiddleware())
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bootstrap creates the configured administrator if it is missing.
func (s *Server) Bootstrap(ctx context.Context) error {
	_, err := s.editor.Bootstrap(ctx, s.config.Bootstrap.Admin)
	return err
}

// shutdownTimeout bounds how long in-flight requests may take to drain.
const shutdownTimeout = 30 * time.Second

// Serve listens until ctx is done or Shutdown is called, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.LogServerStart(s.config.Server.Port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeoutDuration(),
		WriteTimeout: s.config.Server.WriteTimeoutDuration(),
		IdleTimeout:  s.config.Server.IdleTimeoutDuration(),
	}
	s.server = server

	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	if s.limiter != nil {
		s.limiter.StartCleanup(time.Minute, 10*time.Minute, stopCleanup)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-s.shutdown:
	}

	s.logger.LogServerStop()
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(drainCtx)
}

// Shutdown asks Serve to stop. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return
	default:
		close(s.shutdown)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(`{"error":"Metrics not available"}`))
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	errors.ErrNotFound.WriteHTTP(w)
}
