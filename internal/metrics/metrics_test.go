package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/provider"
)

var _ failover.Observer = (*Metrics)(nil)

func TestAttemptFinished(t *testing.T) {
	m := New()
	m.AttemptFinished(failover.Attempt{Provider: "brave", Capability: provider.CapabilitySearch, Outcome: failover.OutcomeTransient, Latency: 120 * time.Millisecond})
	m.AttemptFinished(failover.Attempt{Provider: "brave", Capability: provider.CapabilitySearch, Outcome: failover.OutcomeSuccess, Latency: 80 * time.Millisecond})
	m.AttemptFinished(failover.Attempt{Provider: "brave", Capability: provider.CapabilitySearch, Outcome: failover.OutcomeSuccess, Latency: 90 * time.Millisecond})

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("brave", "search", "success")); got != 2 {
		t.Errorf("success attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("brave", "search", "transient_failure")); got != 1 {
		t.Errorf("transient attempts = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.attemptSeconds); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestCircuitChanged(t *testing.T) {
	m := New()
	m.CircuitChanged("tavily", failover.StatusClosed, failover.StatusOpen)
	if got := testutil.ToFloat64(m.circuitState.WithLabelValues("tavily")); got != 2 {
		t.Errorf("gauge = %v, want 2 (open)", got)
	}
	m.CircuitChanged("tavily", failover.StatusOpen, failover.StatusHalfOpen)
	m.CircuitChanged("tavily", failover.StatusHalfOpen, failover.StatusClosed)
	if got := testutil.ToFloat64(m.circuitState.WithLabelValues("tavily")); got != 0 {
		t.Errorf("gauge = %v, want 0 (closed)", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("tavily", "open")); got != 1 {
		t.Errorf("transitions to open = %v", got)
	}
}

func TestRunAndCache(t *testing.T) {
	m := New()
	m.RunFinished("ok", time.Second, 0)
	m.RunFinished("degraded", 2*time.Second, 3)
	m.CacheLookup(CacheMiss)
	m.CacheLookup(CacheHit)
	m.CacheLookup(CacheHit)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("degraded")); got != 1 {
		t.Errorf("degraded runs = %v", got)
	}
	if got := testutil.ToFloat64(m.fallbacks); got != 3 {
		t.Errorf("fallbacks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues(CacheHit)); got != 2 {
		t.Errorf("cache hits = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunFinished("ok", time.Second, 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `agentrouter_runs_total{status="ok"} 1`) {
		t.Errorf("exposition missing runs_total:\n%s", body)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheLookup(CacheHit)
	if got := testutil.ToFloat64(b.cacheLookups.WithLabelValues(CacheHit)); got != 0 {
		t.Errorf("second registry saw %v hits", got)
	}
}
