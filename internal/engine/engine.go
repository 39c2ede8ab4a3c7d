// Package engine wires providers, policy, graph and cache into the single
// Run entry point.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/agentrouter/internal/assembler"
	"github.com/opentalon/agentrouter/internal/cache"
	"github.com/opentalon/agentrouter/internal/config"
	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/metrics"
	"github.com/opentalon/agentrouter/internal/orchestrator"
	"github.com/opentalon/agentrouter/internal/provider"
	"github.com/opentalon/agentrouter/internal/scheduler"
	"github.com/opentalon/agentrouter/internal/store"
)

const pruneJob = "cache-prune"

// Engine answers queries. It is safe for concurrent use; breaker state is
// shared by every run of the same Engine.
type Engine struct {
	logger   *slog.Logger
	clock    failover.Clock
	breakers *failover.Breakers
	registry *provider.Registry
	graph    *orchestrator.Graph
	metrics  *metrics.Metrics

	cache    cache.Cache
	cacheTTL time.Duration
	sched    *scheduler.Scheduler
	closers  []io.Closer
}

// New builds an engine from cfg. The cache backend is opened here, so ctx
// bounds connecting to redis or the SQL store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = failover.SystemClock{}
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	e := &Engine{
		logger:   o.logger,
		clock:    o.clock,
		metrics:  o.metrics,
		cacheTTL: cfg.Cache.TTL,
	}
	e.breakers = failover.NewBreakers(o.clock, o.logger, o.metrics)
	e.registry = provider.NewRegistry(e.breakers)

	for _, pc := range cfg.ProviderConfigs() {
		a, err := provider.FromConfig(pc)
		if err != nil {
			return nil, err
		}
		if err := e.registry.Register(a, pc); err != nil {
			return nil, err
		}
	}
	for _, c := range o.adapters {
		if err := e.registry.Register(c.Adapter, cfg.ApplyProviderDefaults(c.Config)); err != nil {
			return nil, err
		}
	}
	// Every provider starts with a closed circuit so health checks see it
	// before its first call.
	for _, cand := range e.registry.List() {
		e.breakers.For(cand.Config)
	}

	policy := failover.NewPolicy(e.breakers, cfg.Backoff(),
		failover.WithClock(o.clock),
		failover.WithObserver(o.metrics),
	)
	controller := failover.NewController(e.registry, policy, o.logger)
	graph, err := orchestrator.NewResearchGraph(cfg.GraphConfig(), controller, o.logger)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	e.graph = graph

	e.cache = o.cache
	if e.cache == nil {
		if e.cache, err = e.openCache(ctx, cfg.Cache); err != nil {
			return nil, err
		}
	}
	if err := e.startJanitor(cfg.Cache.PruneSchedule); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.logger.Info("engine ready",
		slog.Int("providers", len(e.registry.List())),
		slog.String("cache", cacheName(e.cache)),
	)
	return e, nil
}

func (e *Engine) openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory, "":
		return cache.NewMemory(e.clock.Now), nil
	case config.CacheSQLite, config.CachePostgres:
		db, err := store.Open(ctx, store.Config{Driver: cfg.Backend, DSN: cfg.DSN, DataDir: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		c := cache.NewSQL(db, e.clock.Now)
		e.closers = append(e.closers, c)
		return c, nil
	case config.CacheRedis:
		c, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect cache redis: %w", err)
		}
		e.closers = append(e.closers, c)
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// startJanitor schedules pruning for caches that do not expire entries
// on their own.
func (e *Engine) startJanitor(schedule string) error {
	p, ok := e.cache.(cache.Pruner)
	if !ok || schedule == "" {
		return nil
	}
	e.sched = scheduler.New(e.logger, time.Minute)
	err := e.sched.Add(pruneJob, schedule, func(ctx context.Context) error {
		n, err := p.Prune(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			e.logger.Debug("pruned expired results", slog.Int64("removed", n))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule cache pruning: %w", err)
	}
	e.sched.Start()
	return nil
}

// Run answers q. It never returns nil and never panics; every failure is
// reported inside the result.
func (e *Engine) Run(ctx context.Context, q orchestrator.Query) (res *assembler.Result) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("run panicked", slog.String("query_id", q.ID), slog.Any("panic", r))
			res = assembler.Failed(q.ID, assembler.CodeInternal, fmt.Sprintf("internal error: %v", r))
		}
		res.DurationMS = time.Since(start).Milliseconds()
		e.finish(q, res)
	}()

	if err := q.Validate(); err != nil {
		return assembler.Failed(q.ID, assembler.CodeValidation, err.Error())
	}

	key := cache.Key(q.Prompt, hints(q.Preferred))
	if !q.NoCache {
		if cached, ok := e.lookup(ctx, key); ok {
			cached.QueryID = q.ID
			cached.CacheHit = true
			return cached
		}
	}

	res = assembler.Assemble(e.graph.Run(ctx, q))
	if res.Status == assembler.StatusOK {
		e.remember(ctx, key, res)
	}
	return res
}

func (e *Engine) lookup(ctx context.Context, key string) (*assembler.Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.CacheLookup(metrics.CacheError)
		e.logger.Warn("cache lookup failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		e.metrics.CacheLookup(metrics.CacheMiss)
		return nil, false
	}
	var res assembler.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		e.metrics.CacheLookup(metrics.CacheError)
		e.logger.Warn("discarding unreadable cache entry", slog.String("error", err.Error()))
		return nil, false
	}
	e.metrics.CacheLookup(metrics.CacheHit)
	return &res, true
}

func (e *Engine) remember(ctx context.Context, key string, res *assembler.Result) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		e.logger.Warn("result not cacheable", slog.String("error", err.Error()))
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.cacheTTL); err != nil {
		e.logger.Warn("cache store failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) finish(q orchestrator.Query, res *assembler.Result) {
	e.metrics.RunFinished(string(res.Status), time.Duration(res.DurationMS)*time.Millisecond, len(res.Fallbacks))

	attrs := []any{
		slog.String("query_id", q.ID),
		slog.String("status", string(res.Status)),
		slog.Bool("cache_hit", res.CacheHit),
		slog.Int64("duration_ms", res.DurationMS),
		slog.Any("providers", res.Providers),
		slog.Int("fallbacks", len(res.Fallbacks)),
	}
	if res.Error != nil {
		attrs = append(attrs, slog.String("error_code", string(res.Error.Code)))
	}
	if res.Status == assembler.StatusOK {
		e.logger.Info("run finished", attrs...)
	} else {
		e.logger.Warn("run finished", attrs...)
	}
}

// Circuits returns the breaker state of every registered provider.
func (e *Engine) Circuits() []failover.CircuitState {
	return e.breakers.Snapshot()
}

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Close stops background pruning and releases cache connections.
func (e *Engine) Close() error {
	var errs []error
	if e.sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, e.sched.Stop(ctx))
		cancel()
	}
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func hints(preferred map[provider.Capability]string) map[string]string {
	if len(preferred) == 0 {
		return nil
	}
	out := make(map[string]string, len(preferred))
	for c, id := range preferred {
		out[string(c)] = id
	}
	return out
}

func cacheName(c cache.Cache) string {
	switch c.(type) {
	case nil:
		return config.CacheNone
	case *cache.Memory:
		return config.CacheMemory
	case *cache.SQL:
		return "sql"
	case *cache.Redis:
		return config.CacheRedis
	}
	return "custom"
}
