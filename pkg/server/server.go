package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/floodgate/pkg/config"
	"mercator-hq/floodgate/pkg/limits"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/proxy"
	"mercator-hq/floodgate/pkg/proxy/middleware"
	"mercator-hq/floodgate/pkg/proxy/types"
	"mercator-hq/floodgate/pkg/telemetry/health"
	"mercator-hq/floodgate/pkg/telemetry/metrics"
	"mercator-hq/floodgate/pkg/telemetry/tracing"
)

// abandonGrace is how long abandoned requests get to write their 503
// before remaining connections are closed.
const abandonGrace = time.Second

// Deps are the components the server dispatches to.
type Deps struct {
	// Manager decides every routed request. Required.
	Manager *limits.Manager

	// Checker serves the health endpoints. Default: a checker with the
	// scheduler and shutdown checks.
	Checker *health.Checker

	// Metrics records HTTP metrics and serves /metrics. Nil disables both.
	Metrics *metrics.Collector

	// Tracer creates the per-request server span. Nil disables request spans.
	Tracer trace.Tracer

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Backend is the admitted request handler. Default: a reverse proxy
	// to server.upstream, or the echo handler when no upstream is set.
	Backend http.Handler

	// Version, Commit and BuildTime are served at /version.
	Version, Commit, BuildTime string
}

// Server is the admission gateway's HTTP server.
//
// # Routing
//
// Health, readiness, version and metrics endpoints are served directly.
// Every other path is matched against the configured routes by longest
// path prefix; the matched route's policy gates the request before it
// reaches the backend. Unmatched paths get 404.
//
// # Shutdown
//
// Shutdown first fails readiness and stops accepting connections, while
// drain schedulers keep releasing queued requests. Whatever is still
// queued when the shutdown timeout expires is abandoned with 503.
type Server struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	router   *chi.Mux
	routes   []route
	limiter  *ratelimit.ConcurrentLimiter
	draining atomic.Bool

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the server and its routes. It does not listen; call Start.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}
	if deps.Manager == nil {
		return nil, errors.New("limits manager is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
	}

	if s.deps.Checker == nil {
		s.deps.Checker = health.New(cfg.Telemetry.Health.CheckTimeout)
		s.deps.Checker.RegisterCheck("scheduler", health.SchedulerCheck(deps.Manager.SchedulersRunning))
	}
	s.deps.Checker.RegisterCheck("shutdown", health.ShutdownCheck(s.draining.Load))

	if s.deps.Backend == nil {
		backend, err := newBackend(cfg.Server.Upstream, deps.Logger)
		if err != nil {
			return nil, err
		}
		s.deps.Backend = backend
	}

	if cfg.Server.MaxInFlight > 0 {
		s.limiter = ratelimit.NewConcurrentLimiter(cfg.Server.MaxInFlight)
	}

	routes, err := s.buildRoutes()
	if err != nil {
		return nil, err
	}
	s.routes = routes
	s.router = s.setupRouter()
	return s, nil
}

func newBackend(upstream string, logger *slog.Logger) (http.Handler, error) {
	if upstream == "" {
		logger.Info("No upstream configured; admitted requests are answered by the echo handler")
		return proxy.EchoHandler(), nil
	}
	return proxy.NewUpstream(upstream, logger)
}

// setupRouter configures the router and the middleware chain.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Outermost first.
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID(s.deps.Logger))
	if s.deps.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(s.deps.Tracer))
	}
	r.Use(middleware.Logging)

	hc := s.cfg.Telemetry.Health
	r.Method(http.MethodGet, hc.LivenessPath, s.deps.Checker.LivenessHandler())
	r.Method(http.MethodHead, hc.LivenessPath, s.deps.Checker.LivenessHandler())
	r.Method(http.MethodGet, hc.ReadinessPath, s.deps.Checker.ReadinessHandler())
	r.Method(http.MethodHead, hc.ReadinessPath, s.deps.Checker.ReadinessHandler())
	r.Method(http.MethodGet, "/version", health.VersionHandler(s.deps.Version, s.deps.Commit, s.deps.BuildTime))

	if s.deps.Metrics != nil && !s.cfg.Telemetry.Metrics.Disabled {
		r.Method(http.MethodGet, s.cfg.Telemetry.Metrics.Path, s.deps.Metrics.Handler())
	}

	r.Handle("/*", http.HandlerFunc(s.dispatch))
	return r
}

// dispatch routes a request to the handler of its longest matching prefix.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	rt, ok := matchRoute(s.routes, r.URL.Path)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound,
			types.NewErrorResponse("no route matches "+r.URL.Path, types.ErrorTypeNotFound, types.CodeNoRoute))
		return
	}
	rt.handler.ServeHTTP(w, r)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done or
// the server fails. A cancelled ctx triggers Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.router,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.listener = ln
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gateway",
			"address", ln.Addr().String(),
			"routes", len(s.routes),
			"max_in_flight", s.cfg.Server.MaxInFlight,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Draining reports whether shutdown has begun.
func (s *Server) Draining() bool {
	return s.draining.Load()
}

// Shutdown gracefully stops the server. Queued requests keep draining
// until server.shutdown_timeout; the limits manager is then stopped, which
// answers every request still queued with 503.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.draining.Store(true)

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()

		timeout := s.cfg.Server.ShutdownTimeout
		s.logger.Info("Initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		var err error
		if srv != nil {
			// Handlers of queued requests finish as the schedulers drain.
			err = srv.Shutdown(shutdownCtx)
		}
		if stopErr := s.deps.Manager.Stop(context.Background()); stopErr != nil {
			errs = append(errs, fmt.Errorf("failed to stop limits manager: %w", stopErr))
		}
		if err != nil {
			s.logger.Warn("Graceful shutdown timed out; answering queued requests", "error", err)
			graceCtx, cancel := context.WithTimeout(context.Background(), abandonGrace)
			err = srv.Shutdown(graceCtx)
			cancel()
			if err != nil {
				_ = srv.Close()
			}
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("Gateway stopped")
	})
	return s.shutdownErr
}
