package engine

import (
	"log/slog"

	"github.com/opentalon/agentrouter/internal/cache"
	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/metrics"
	"github.com/opentalon/agentrouter/internal/provider"
)

type options struct {
	logger   *slog.Logger
	adapters []provider.Candidate
	cache    cache.Cache
	clock    failover.Clock
	metrics  *metrics.Metrics
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAdapter registers an in-process adapter next to the configured
// providers. cfg.ID may be left empty to use the adapter's id.
func WithAdapter(a provider.Adapter, cfg provider.Config) Option {
	return func(o *options) {
		o.adapters = append(o.adapters, provider.Candidate{Adapter: a, Config: cfg})
	}
}

// WithCache replaces the cache built from the cache config section.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

func WithClock(c failover.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
