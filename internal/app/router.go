package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/health"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/ratelimit"
	"github.com/noah-isme/apotek-pos/internal/security"
	"github.com/noah-isme/apotek-pos/internal/tenant"
)

// Router builds the HTTP handler. The returned health handler lets the caller
// flip readiness during shutdown.
func (d *Dependencies) Router() (http.Handler, *health.Handler) {
	cfg := d.Config
	healthHandler := &health.Handler{Probes: map[string]health.Probe{"redis": health.RedisProbe(d.Redis)}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.EnablePrometheus {
		httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, nil, d.Registry)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(tenant.NewResolver(cfg.Tenant.Header, cfg.Tenant.RootDomain, cfg.Tenant.Default).Middleware)
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: d.Redis, Prefix: "ratelimit:pos:"},
		Config:  ratelimit.Config{Key: ratelimit.TenantTerminalKey, Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max},
		OnError: func(err error) { d.Logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL, Scope: tenantScope}

	r.Route("/api/v1/pos", func(pos chi.Router) {
		pos.Use(tenant.RequireTenant)
		pos.Use(limiter.Middleware)
		checkout.NewHandler(d.Checkout).Routes(pos, idem.Middleware)
	})
	return r, healthHandler
}

func tenantScope(r *http.Request) string {
	id, _ := tenant.From(r.Context())
	return id
}
