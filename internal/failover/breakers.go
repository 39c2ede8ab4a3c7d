package failover

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/opentalon/agentrouter/internal/provider"
)

// Observer receives policy events. Implementations must not block.
type Observer interface {
	AttemptFinished(a Attempt)
	CircuitChanged(providerID string, from, to Status)
}

// Breakers is the process-wide set of circuit breakers, one per provider.
// It satisfies provider.Availability so the registry can skip open
// circuits.
type Breakers struct {
	mu       sync.RWMutex
	byID     map[string]*Breaker
	clock    Clock
	logger   *slog.Logger
	observer Observer
}

func NewBreakers(clock Clock, logger *slog.Logger, observer Observer) *Breakers {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breakers{
		byID:     make(map[string]*Breaker),
		clock:    clock,
		logger:   logger,
		observer: observer,
	}
}

// For returns the breaker for cfg.ID, creating it from cfg's thresholds on
// first use.
func (s *Breakers) For(cfg provider.Config) *Breaker {
	s.mu.RLock()
	b, ok := s.byID[cfg.ID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byID[cfg.ID]; ok {
		return b
	}
	b = NewBreaker(cfg.ID, BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		QuotaCooldown:    cfg.QuotaCooldown,
	}, s.clock)
	b.notify = s.transition
	s.byID[cfg.ID] = b
	return b
}

func (s *Breakers) Get(providerID string) (*Breaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[providerID]
	return b, ok
}

// Available implements provider.Availability. Providers without a breaker
// are always available.
func (s *Breakers) Available(providerID string) bool {
	b, ok := s.Get(providerID)
	if !ok {
		return true
	}
	return b.Available()
}

// Snapshot returns the state of every breaker sorted by provider id.
func (s *Breakers) Snapshot() []CircuitState {
	s.mu.RLock()
	out := make([]CircuitState, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b.State())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (s *Breakers) transition(providerID string, from, to Status) {
	level := slog.LevelInfo
	if to == StatusOpen {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "circuit state changed",
		slog.String("provider", providerID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if s.observer != nil {
		s.observer.CircuitChanged(providerID, from, to)
	}
}
