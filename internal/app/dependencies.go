// Package app assembles the checkout service and its HTTP surface from configuration.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/apotek-pos/internal/cache"
	"github.com/noah-isme/apotek-pos/internal/catalog"
	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/config"
	"github.com/noah-isme/apotek-pos/internal/events"
	"github.com/noah-isme/apotek-pos/internal/gateway"
	"github.com/noah-isme/apotek-pos/internal/lock"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

// Dependencies enumerates the shared services the HTTP layer is built from.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client
	Registry *prometheus.Registry
	Checkout *checkout.Service
}

// NewDependencies wires catalog, gateway, events and locking around rdb.
// A nil registry gets a fresh one.
func NewDependencies(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client, reg *prometheus.Registry) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("app: redis client is required")
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	obs.MustRegisterAll(reg, resilience.Collectors()...)

	source, err := newCatalogSource(cfg, logger, rdb)
	if err != nil {
		return nil, err
	}

	svc, err := checkout.NewService(checkout.Config{
		Store:    checkout.NewRedisStore(rdb),
		Locker:   lock.Locker{R: rdb},
		Catalog:  source,
		Recorder: newRecorder(cfg, logger),
		Events: &events.Bus{
			Store:     events.RedisStreamStore{R: rdb, Stream: events.DefaultStream, MaxLen: 10000},
			Notifiers: []events.Notifier{events.LogNotifier{Logger: obs.Component(logger, "events")}},
		},
		Rates:      cfg.POS.TaxRates,
		SessionTTL: cfg.POS.SessionTTL,
		LockTTL:    cfg.POS.LockTTL,
		Currency:   cfg.POS.Currency,
		Logger:     obs.Component(logger, "checkout"),
		Metrics:    obs.NewCheckoutMetrics(cfg.Obs.MetricsNamespace, reg),
	})
	if err != nil {
		return nil, err
	}
	return &Dependencies{Config: cfg, Logger: logger, Redis: rdb, Registry: reg, Checkout: svc}, nil
}

func newCatalogSource(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client) (catalog.Source, error) {
	var next catalog.Source
	switch {
	case cfg.Catalog.BaseURL != "":
		next = &catalog.HTTPSource{
			BaseURL: cfg.Catalog.BaseURL,
			Client:  upstreamClient("catalog", cfg.Catalog.Timeout, 2, logger),
		}
	case cfg.Catalog.File != "":
		static, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			return nil, fmt.Errorf("app: load catalog: %w", err)
		}
		next = static
	default:
		logger.Warn().Msg("no catalog configured, every lookup will miss")
		next = catalog.NewStaticSource()
	}
	return &catalog.CachedSource{
		Next:   next,
		Cache:  cache.NewJSON(rdb, cfg.Catalog.CacheTTL),
		Logger: obs.Component(logger, "catalog"),
	}, nil
}

func newRecorder(cfg *config.Config, logger zerolog.Logger) gateway.Recorder {
	if cfg.Gateway.BaseURL == "" {
		logger.Warn().Msg("no gateway configured, finalized transactions are kept in memory")
		return gateway.NewMemoryRecorder()
	}
	return &gateway.HTTPRecorder{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Client:  upstreamClient("gateway", cfg.Gateway.Timeout, cfg.Gateway.MaxAttempts, logger),
	}
}

func upstreamClient(target string, timeout time.Duration, attempts int, logger zerolog.Logger) *resilience.Client {
	return &resilience.Client{
		HTTP:        &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: target}, obs.Component(logger, "resilience")),
		MaxAttempts: attempts,
		BaseBackoff: 100 * time.Millisecond,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}
