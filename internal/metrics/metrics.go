// Package metrics exports attempt, circuit, run and cache counters in the
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentalon/agentrouter/internal/failover"
)

const namespace = "agentrouter"

// Metrics implements failover.Observer. All collectors live in a private
// registry so tests and embedded engines never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	attempts       *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runSeconds     prometheus.Histogram
	fallbacks      prometheus.Counter
	cacheLookups   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Adapter invocations by provider, capability and outcome.",
		}, []string{"provider", "capability", "outcome"}),
		attemptSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_seconds",
			Help:      "Adapter invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider", "capability"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker transitions by provider and target state.",
		}, []string{"provider", "to"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed orchestration runs by result status.",
		}, []string{"status"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "End-to-end orchestration run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Provider fallbacks taken across all runs.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.attempts, m.attemptSeconds, m.circuitState, m.transitions,
		m.runs, m.runSeconds, m.fallbacks, m.cacheLookups,
	)
	return m
}

func (m *Metrics) AttemptFinished(a failover.Attempt) {
	m.attempts.WithLabelValues(a.Provider, string(a.Capability), string(a.Outcome)).Inc()
	m.attemptSeconds.WithLabelValues(a.Provider, string(a.Capability)).Observe(a.Latency.Seconds())
}

func (m *Metrics) CircuitChanged(providerID string, _, to failover.Status) {
	m.circuitState.WithLabelValues(providerID).Set(float64(to))
	m.transitions.WithLabelValues(providerID, to.String()).Inc()
}

func (m *Metrics) RunFinished(status string, d time.Duration, fallbacks int) {
	m.runs.WithLabelValues(status).Inc()
	m.runSeconds.Observe(d.Seconds())
	m.fallbacks.Add(float64(fallbacks))
}

const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func (m *Metrics) CacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
