// Package server assembles the HTTP surface: site routes, the REST API,
// media files, health and metrics, behind the shared middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/blog"
	"github.com/inkwell-labs/forum/pkg/cache"
	"github.com/inkwell-labs/forum/pkg/config"
	"github.com/inkwell-labs/forum/pkg/i18n"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/media"
	"github.com/inkwell-labs/forum/pkg/observability"
	"github.com/inkwell-labs/forum/pkg/restapi"
	"github.com/inkwell-labs/forum/pkg/session"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
	idempotencyTTL  = 24 * time.Hour
)

// accountPolicy throttles login, registration and code confirmation.
var accountPolicy = auth.Policy{RPM: 20, Burst: 10}

// Pinger is a dependency the health check probes.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the server routes to. Telemetry, Metrics,
// Limiter, Media and DB may be nil.
type Deps struct {
	Config    *config.Config
	KV        kvstore.Store
	Users     auth.UserLookup
	Accounts  *account.Service
	Blog      *blog.Service
	Limiter   auth.LimiterStore
	Media     media.Store
	Metrics   *observability.Metrics
	Telemetry *observability.Provider
	DB        Pinger
}

// sweeper is an in-process store that drops stale entries on demand.
type sweeper interface {
	Sweep() int
}

// Server owns the main and health HTTP servers.
type Server struct {
	cfg       *config.Config
	deps      Deps
	handler   http.Handler
	health    http.Handler
	ipLimiter *api.IPRateLimiter
	sweepers  []sweeper
	logger    *slog.Logger
}

// New builds the routes and middleware chain.
func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		deps:      d,
		ipLimiter: api.NewIPRateLimiter(float64(d.Config.RateLimitRPS), d.Config.RateLimitBurst),
		logger:    slog.Default().With("component", "server"),
	}
	for _, dep := range []any{d.KV, d.Limiter} {
		if sw, ok := dep.(sweeper); ok {
			s.sweepers = append(s.sweepers, sw)
		}
	}

	mux := http.NewServeMux()
	s.routes(mux)

	sessions := session.NewStore(d.KV, d.Config.SecretKey, !d.Config.IsDevelopment())
	authn := auth.NewAuthenticator(d.Users, d.KV)

	// Outermost first.
	chain := []func(http.Handler) http.Handler{
		auth.RequestIDMiddleware,
		observability.Middleware(d.Telemetry, d.Metrics),
		auth.CORSMiddleware(d.Config.CORSOrigins),
		s.ipLimiter.Middleware,
		i18n.Middleware,
		sessions.Middleware,
		authn.Middleware,
	}
	var h http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	s.handler = h

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health", s.handleHealth)
	s.health = healthMux
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	d := s.deps
	throttle := auth.ThrottleMiddleware(d.Limiter, "account", accountPolicy)
	account.NewHandler(d.Accounts, throttle).RegisterRoutes(mux)
	blog.NewHandler(d.Blog, d.Accounts, s.cfg.BaseURL).RegisterRoutes(mux)

	c := cache.New(d.KV)
	restapi.NewHandler(d.Blog, d.Accounts,
		cache.NewResponseCache(c, cache.ResponseTTL, restapi.ViewerKey),
		api.NewKVIdempotencyStore(d.KV, idempotencyTTL),
	).RegisterRoutes(mux)

	if local, ok := d.Media.(*media.LocalStore); ok {
		files := http.StripPrefix("/media/", http.FileServer(http.Dir(local.Root())))
		mux.Handle("GET /media/{path...}", files)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}
}

// Handler is the fully wrapped main handler.
func (s *Server) Handler() http.Handler { return s.handler }

// HealthHandler serves the standalone health endpoint.
func (s *Server) HealthHandler() http.Handler { return s.health }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	probe := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if s.deps.DB != nil {
		probe("database", s.deps.DB.PingContext)
	}
	if s.deps.KV != nil {
		probe("kv", s.deps.KV.Ping)
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	api.WriteJSON(w, status, map[string]any{"status": state, "checks": checks})
}

// runSweeps evicts expired in-process keys and idle throttle buckets every
// interval until ctx is done.
func (s *Server) runSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sw := range s.sweepers {
				if n := sw.Sweep(); n > 0 {
					s.logger.Debug("swept stale entries", "store", fmt.Sprintf("%T", sw), "removed", n)
				}
			}
		}
	}
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves the main and health servers until ctx is cancelled, then
// shuts both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	site := newHTTPServer(s.cfg.Addr(), s.handler)
	servers := []*http.Server{site}
	if hp := strings.TrimSpace(s.cfg.HealthPort); hp != "" && hp != s.cfg.Port {
		servers = append(servers, newHTTPServer(":"+hp, s.health))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.ipLimiter.RunCleanup(gctx)
		return nil
	})
	if len(s.sweepers) > 0 {
		g.Go(func() error {
			s.runSweeps(gctx, sweepInterval)
			return nil
		})
	}
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			s.logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
