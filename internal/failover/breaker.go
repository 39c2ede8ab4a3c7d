package failover

import (
	"sync"
	"time"
)

// Status is a circuit breaker state. The numeric values are exported as
// the circuit state gauge.
type Status int

const (
	StatusClosed Status = iota
	StatusHalfOpen
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusHalfOpen:
		return "half-open"
	case StatusOpen:
		return "open"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	QuotaCooldown    time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		QuotaCooldown:    time.Minute,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.QuotaCooldown <= 0 {
		c.QuotaCooldown = d.QuotaCooldown
	}
	return c
}

// CircuitState is a point-in-time view of one provider's breaker.
type CircuitState struct {
	Provider            string    `json:"provider"`
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ChangedAt           time.Time `json:"changed_at"`
	OpenUntil           time.Time `json:"open_until,omitzero"`
}

type transitionFunc func(providerID string, from, to Status)

// Breaker tracks consecutive call failures for one provider. All methods
// are safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	id        string
	cfg       BreakerConfig
	clock     Clock
	status    Status
	failures  int
	changedAt time.Time
	openUntil time.Time
	trial     bool
	gen       uint64
	notify    transitionFunc
}

func NewBreaker(id string, cfg BreakerConfig, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Breaker{
		id:        id,
		cfg:       cfg.withDefaults(),
		clock:     clock,
		changedAt: clock.Now(),
	}
}

func (b *Breaker) update(fn func(now time.Time)) {
	b.mu.Lock()
	from := b.status
	fn(b.clock.Now())
	to := b.status
	notify := b.notify
	b.mu.Unlock()
	if from != to && notify != nil {
		notify(b.id, from, to)
	}
}

func (b *Breaker) setStatus(s Status, now time.Time) {
	if b.status != s {
		b.status = s
		b.changedAt = now
	}
}

func (b *Breaker) open(now time.Time, d time.Duration) {
	b.openUntil = now.Add(d)
	b.changedAt = now
	b.status = StatusOpen
}

// Available reports whether Acquire would currently grant a permit.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case StatusOpen:
		return !b.clock.Now().Before(b.openUntil)
	case StatusHalfOpen:
		return !b.trial
	default:
		return true
	}
}

// Permit is the right to make one call, handed out by Acquire. It must be
// settled exactly once with RecordSuccess, RecordFailure, RecordQuota or
// Release. Only the permit that was granted as the half-open trial can
// decide or free that trial.
type Permit struct {
	b     *Breaker
	trial bool
	gen   uint64
}

// Acquire asks for permission to call the provider. An open circuit whose
// cool-down has elapsed moves to half-open and hands out the single trial
// permit.
func (b *Breaker) Acquire() (Permit, error) {
	var (
		p   Permit
		err error
	)
	b.update(func(now time.Time) {
		switch b.status {
		case StatusOpen:
			if now.Before(b.openUntil) {
				err = ErrCircuitOpen
				return
			}
			b.setStatus(StatusHalfOpen, now)
			b.gen++
			b.trial = true
			p = Permit{b: b, trial: true, gen: b.gen}
		case StatusHalfOpen:
			if b.trial {
				err = ErrCircuitOpen
				return
			}
			b.trial = true
			p = Permit{b: b, trial: true, gen: b.gen}
		default:
			p = Permit{b: b}
		}
	})
	return p, err
}

// ownsTrial reports whether p holds the outstanding half-open trial.
// Callers hold b.mu.
func (b *Breaker) ownsTrial(p Permit) bool {
	return p.trial && p.gen == b.gen && b.status == StatusHalfOpen && b.trial
}

func (p Permit) RecordSuccess() {
	if p.b == nil {
		return
	}
	b := p.b
	b.update(func(now time.Time) {
		b.failures = 0
		b.trial = false
		b.openUntil = time.Time{}
		b.setStatus(StatusClosed, now)
	})
}

// RecordFailure charges one failed call to the consecutive-failure counter.
// A failure reopens a half-open circuit only when it settles the trial.
func (p Permit) RecordFailure() {
	if p.b == nil {
		return
	}
	b := p.b
	b.update(func(now time.Time) {
		b.failures++
		switch b.status {
		case StatusHalfOpen:
			if b.ownsTrial(p) {
				b.trial = false
				b.open(now, b.cfg.Cooldown)
			}
		case StatusClosed:
			if b.failures >= b.cfg.FailureThreshold {
				b.open(now, b.cfg.Cooldown)
			}
		}
	})
}

// RecordQuota opens the circuit for max(QuotaCooldown, retryAfter). The
// failure counter is left alone.
func (p Permit) RecordQuota(retryAfter time.Duration) {
	if p.b == nil {
		return
	}
	b := p.b
	b.update(func(now time.Time) {
		b.trial = false
		d := max(b.cfg.QuotaCooldown, retryAfter)
		if until := now.Add(d); b.status != StatusOpen || until.After(b.openUntil) {
			b.open(now, d)
		}
	})
}

// Release returns the permit without charging the provider, e.g. when the
// caller gave up before the call completed.
func (p Permit) Release() {
	if p.b == nil {
		return
	}
	b := p.b
	b.mu.Lock()
	if b.ownsTrial(p) {
		b.trial = false
	}
	b.mu.Unlock()
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := CircuitState{
		Provider:            b.id,
		Status:              b.status,
		ConsecutiveFailures: b.failures,
		ChangedAt:           b.changedAt,
	}
	if b.status == StatusOpen {
		s.OpenUntil = b.openUntil
	}
	return s
}
