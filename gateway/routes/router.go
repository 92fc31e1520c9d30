package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"p2pescrow/gateway/middleware"
	"p2pescrow/native/escrow"
)

type Config struct {
	Engine   *escrow.Engine
	Balances Balances
	Logger   *slog.Logger

	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	// AnonymousReads serves the GET views without a bearer token.
	AnonymousReads bool
	// ResolveTimeout bounds one arbitration round. Zero leaves it to the
	// request context.
	ResolveTimeout time.Duration
	// MetricsHandler defaults to the prometheus default registry.
	MetricsHandler http.Handler
}

func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &escrowRoutes{
		engine:         cfg.Engine,
		balances:       cfg.Balances,
		logger:         logger,
		resolveTimeout: cfg.ResolveTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metrics := cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			if cfg.Authenticator != nil {
				read.Use(cfg.Authenticator.Middleware(cfg.AnonymousReads))
			}
			if cfg.RateLimiter != nil {
				read.Use(cfg.RateLimiter.Middleware("read"))
			}
			h.mountReads(read)
		})
		v1.Group(func(write chi.Router) {
			if cfg.Authenticator != nil {
				write.Use(cfg.Authenticator.Middleware(false))
			}
			if cfg.RateLimiter != nil {
				write.Use(cfg.RateLimiter.Middleware("write"))
			}
			h.mountWrites(write)
		})
	})
	return r
}
