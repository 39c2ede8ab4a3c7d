package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/orchestrator"
	"github.com/opentalon/agentrouter/internal/provider"
)

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Retry     RetryConfig      `yaml:"retry"`
	Circuit   CircuitConfig    `yaml:"circuit"`
	Graph     GraphConfig      `yaml:"graph"`
	Cache     CacheConfig      `yaml:"cache"`
	Log       LogConfig        `yaml:"log"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
}

type ProviderConfig struct {
	ID            string        `yaml:"id"`
	Vendor        string        `yaml:"vendor"`
	Capability    string        `yaml:"capability"`
	Priority      int           `yaml:"priority"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    *int          `yaml:"max_retries"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	RatePerSecond float64       `yaml:"rate_per_second"`

	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	QuotaCooldown    time.Duration `yaml:"quota_cooldown"`
}

type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	// Timeout bounds each attempt of a provider that sets no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// CircuitConfig holds breaker defaults for providers that do not set their
// own thresholds.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	QuotaCooldown    time.Duration `yaml:"quota_cooldown"`
}

type GraphConfig struct {
	Deadline       time.Duration `yaml:"deadline"`
	Degrade        string        `yaml:"degrade"`
	FetchTopN      *int          `yaml:"fetch_top_n"`
	MaxSnippets    int           `yaml:"max_snippets"`
	MaxSourceBytes int           `yaml:"max_source_bytes"`
	MaxTokens      int           `yaml:"max_tokens"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Rules          []string      `yaml:"rules"`
}

const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
)

type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	DSN           string        `yaml:"dsn"`
	DataDir       string        `yaml:"data_dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	// Tracing is none, stdout or otlp.
	Tracing      string `yaml:"tracing"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// envOverrides are deployment knobs that may be set without editing the
// config file. Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel      string        `env:"AGENTROUTER_LOG_LEVEL"`
	LogFormat     string        `env:"AGENTROUTER_LOG_FORMAT"`
	CacheBackend  string        `env:"AGENTROUTER_CACHE_BACKEND"`
	CacheDSN      string        `env:"AGENTROUTER_CACHE_DSN"`
	RedisAddr     string        `env:"AGENTROUTER_REDIS_ADDR"`
	GraphDeadline time.Duration `env:"AGENTROUTER_GRAPH_DEADLINE"`
	Tracing       string        `env:"AGENTROUTER_TRACING"`
	OTLPEndpoint  string        `env:"AGENTROUTER_OTLP_ENDPOINT"`
	MetricsAddr   string        `env:"AGENTROUTER_METRICS_ADDR"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
	}
	cfg.Cache.DSN = expandEnv(cfg.Cache.DSN)
	cfg.Cache.RedisAddr = expandEnv(cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = expandEnv(cfg.Cache.RedisPassword)
	cfg.Telemetry.OTLPEndpoint = expandEnv(cfg.Telemetry.OTLPEndpoint)
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
	set(&cfg.Cache.Backend, o.CacheBackend)
	set(&cfg.Cache.DSN, o.CacheDSN)
	set(&cfg.Cache.RedisAddr, o.RedisAddr)
	set(&cfg.Telemetry.Tracing, o.Tracing)
	set(&cfg.Telemetry.OTLPEndpoint, o.OTLPEndpoint)
	set(&cfg.Telemetry.MetricsAddr, o.MetricsAddr)
	if o.GraphDeadline > 0 {
		cfg.Graph.Deadline = o.GraphDeadline
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies environment
// overrides and defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// providers. Embedders register adapters on the engine directly.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	bo := failover.DefaultBackoff()
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = bo.Base
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = bo.Max
	}
	if c.Retry.Timeout <= 0 {
		c.Retry.Timeout = defaultAttemptTimeout
	}

	br := failover.DefaultBreakerConfig()
	if c.Circuit.FailureThreshold <= 0 {
		c.Circuit.FailureThreshold = br.FailureThreshold
	}
	if c.Circuit.Cooldown <= 0 {
		c.Circuit.Cooldown = br.Cooldown
	}
	if c.Circuit.QuotaCooldown <= 0 {
		c.Circuit.QuotaCooldown = br.QuotaCooldown
	}

	g := orchestrator.DefaultGraphConfig()
	if c.Graph.Deadline <= 0 {
		c.Graph.Deadline = g.Deadline
	}
	if c.Graph.Degrade == "" {
		c.Graph.Degrade = string(g.Degrade)
	}
	if c.Graph.FetchTopN == nil {
		n := g.FetchTopN
		c.Graph.FetchTopN = &n
	}
	if c.Graph.MaxSnippets <= 0 {
		c.Graph.MaxSnippets = g.MaxSnippets
	}
	if c.Graph.MaxSourceBytes <= 0 {
		c.Graph.MaxSourceBytes = g.MaxSourceBytes
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.PruneSchedule == "" {
		c.Cache.PruneSchedule = "@every 10m"
	}
	if c.Cache.DataDir == "" {
		c.Cache.DataDir = "data"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "agentrouter"
	}
}

func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		want, ok := provider.VendorCapability(p.Vendor)
		if !ok {
			return fmt.Errorf("config: provider %q: unknown vendor %q", p.ID, p.Vendor)
		}
		if p.Capability != "" {
			got, err := provider.ParseCapability(p.Capability)
			if err != nil {
				return fmt.Errorf("config: provider %q: %w", p.ID, err)
			}
			if got != want {
				return fmt.Errorf("config: provider %q: vendor %s serves %s, not %s", p.ID, p.Vendor, want, got)
			}
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return fmt.Errorf("config: provider %q: max_retries must not be negative", p.ID)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("config: provider %q: timeout must not be negative", p.ID)
		}
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("config: retry.max_delay %s is below base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if _, err := orchestrator.ParseDegradeMode(c.Graph.Degrade); err != nil {
		return fmt.Errorf("config: graph: %w", err)
	}
	if c.Graph.FetchTopN != nil && *c.Graph.FetchTopN < 0 {
		return fmt.Errorf("config: graph.fetch_top_n must not be negative")
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory, CacheSQLite:
	case CachePostgres:
		if c.Cache.DSN == "" {
			return fmt.Errorf("config: cache.dsn is required for postgres")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("config: cache.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	switch strings.ToLower(c.Telemetry.Tracing) {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("config: telemetry.otlp_endpoint is required for otlp tracing")
		}
	default:
		return fmt.Errorf("config: unknown tracing exporter %q", c.Telemetry.Tracing)
	}
	return nil
}

const (
	defaultMaxRetries     = 2
	defaultAttemptTimeout = 30 * time.Second
)

// ProviderConfigs converts the provider entries, filling unset timeouts
// and circuit thresholds via ApplyProviderDefaults.
func (c *Config) ProviderConfigs() []provider.Config {
	out := make([]provider.Config, 0, len(c.Providers))
	for _, p := range c.Providers {
		capability, _ := provider.VendorCapability(p.Vendor)
		pc := provider.Config{
			ID:               p.ID,
			Vendor:           p.Vendor,
			Capability:       capability,
			Priority:         p.Priority,
			Timeout:          p.Timeout,
			MaxRetries:       defaultMaxRetries,
			BaseURL:          p.BaseURL,
			APIKey:           p.APIKey,
			Model:            p.Model,
			RatePerSecond:    p.RatePerSecond,
			FailureThreshold: p.FailureThreshold,
			Cooldown:         p.Cooldown,
			QuotaCooldown:    p.QuotaCooldown,
		}
		if p.MaxRetries != nil {
			pc.MaxRetries = *p.MaxRetries
		}
		out = append(out, c.ApplyProviderDefaults(pc))
	}
	return out
}

// ApplyProviderDefaults fills an unset attempt timeout from the retry
// section and unset breaker thresholds from the circuit section. Adapters
// registered in code go through it too, so no provider runs unbounded.
func (c *Config) ApplyProviderDefaults(pc provider.Config) provider.Config {
	if pc.Timeout <= 0 {
		pc.Timeout = c.Retry.Timeout
		if pc.Timeout <= 0 {
			pc.Timeout = defaultAttemptTimeout
		}
	}
	if pc.FailureThreshold <= 0 {
		pc.FailureThreshold = c.Circuit.FailureThreshold
	}
	if pc.Cooldown <= 0 {
		pc.Cooldown = c.Circuit.Cooldown
	}
	if pc.QuotaCooldown <= 0 {
		pc.QuotaCooldown = c.Circuit.QuotaCooldown
	}
	return pc
}

func (c *Config) Backoff() failover.Backoff {
	return failover.Backoff{Base: c.Retry.BaseDelay, Max: c.Retry.MaxDelay}
}

func (c *Config) GraphConfig() orchestrator.GraphConfig {
	mode, _ := orchestrator.ParseDegradeMode(c.Graph.Degrade)
	g := orchestrator.GraphConfig{
		Deadline:       c.Graph.Deadline,
		Degrade:        mode,
		MaxSnippets:    c.Graph.MaxSnippets,
		MaxSourceBytes: c.Graph.MaxSourceBytes,
		MaxTokens:      c.Graph.MaxTokens,
		SystemPrompt:   c.Graph.SystemPrompt,
		Rules:          c.Graph.Rules,
	}
	if c.Graph.FetchTopN != nil {
		g.FetchTopN = *c.Graph.FetchTopN
	}
	return g
}
