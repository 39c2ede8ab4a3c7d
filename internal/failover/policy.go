package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentalon/agentrouter/internal/provider"
)

var tracer = otel.Tracer("github.com/opentalon/agentrouter/internal/failover")

type action int

const (
	actSucceed action = iota
	actRetry
	actFail
)

// retryMachine decides what happens after each attempt of one call.
type retryMachine struct {
	maxRetries int
	retries    int
	backoff    Backoff
}

func (m *retryMachine) next(err error) (action, time.Duration) {
	if err == nil {
		return actSucceed, 0
	}
	if provider.Classify(err) != provider.KindTransient || m.retries >= m.maxRetries {
		return actFail, 0
	}
	d := m.backoff.Delay(m.retries)
	if ra := provider.RetryAfter(err); ra > d {
		d = ra
		if m.backoff.Max > 0 && d > m.backoff.Max {
			d = m.backoff.Max
		}
	}
	m.retries++
	return actRetry, d
}

// Policy wraps single adapter calls with bounded retry and the provider's
// circuit breaker.
type Policy struct {
	breakers *Breakers
	backoff  Backoff
	clock    Clock
	observer Observer
}

type PolicyOption func(*Policy)

func WithClock(c Clock) PolicyOption {
	return func(p *Policy) { p.clock = c }
}

func WithObserver(o Observer) PolicyOption {
	return func(p *Policy) { p.observer = o }
}

func NewPolicy(breakers *Breakers, backoff Backoff, opts ...PolicyOption) *Policy {
	p := &Policy{breakers: breakers, backoff: backoff, clock: SystemClock{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Call invokes cand until it succeeds, fails with a non-transient error or
// runs out of retries. The caller sees one final result together with
// every attempt made. ErrCircuitOpen is returned, with no attempts, when
// the breaker refuses the call.
func (p *Policy) Call(ctx context.Context, cand provider.Candidate, req *provider.Request) (*provider.Response, []Attempt, error) {
	br := p.breakers.For(cand.Config)
	permit, err := br.Acquire()
	if err != nil {
		return nil, nil, fmt.Errorf("provider %s: %w", cand.Config.ID, err)
	}

	m := retryMachine{maxRetries: cand.Config.MaxRetries, backoff: p.backoff}
	var attempts []Attempt
	for {
		resp, a, err := p.invoke(ctx, cand, req, len(attempts)+1)
		attempts = append(attempts, a)

		act, delay := m.next(err)
		switch act {
		case actSucceed:
			permit.RecordSuccess()
			return resp, attempts, nil
		case actRetry:
			if serr := p.clock.Sleep(ctx, delay); serr != nil {
				permit.Release()
				return nil, attempts, fmt.Errorf("provider %s: retry wait: %w", cand.Config.ID, serr)
			}
			continue
		}

		p.settle(ctx, permit, err)
		return nil, attempts, err
	}
}

func (p *Policy) settle(ctx context.Context, permit Permit, err error) {
	if ctx.Err() != nil {
		permit.Release()
		return
	}
	switch provider.Classify(err) {
	case provider.KindQuota:
		permit.RecordQuota(provider.RetryAfter(err))
	case provider.KindValidation, provider.KindCanceled:
		permit.Release()
	default:
		permit.RecordFailure()
	}
}

func (p *Policy) invoke(ctx context.Context, cand provider.Candidate, req *provider.Request, n int) (*provider.Response, Attempt, error) {
	cfg := cand.Config
	ctx, span := tracer.Start(ctx, "provider.invoke", trace.WithAttributes(
		attribute.String("provider.id", cfg.ID),
		attribute.String("provider.capability", string(cfg.Capability)),
		attribute.Int("attempt", n),
	))
	defer span.End()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	start := p.clock.Now()
	resp, err := safeInvoke(callCtx, cand.Adapter, req)
	end := p.clock.Now()
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if err != nil && timedOut {
		err = provider.Transient(cfg.ID, fmt.Errorf("timed out after %s: %w", cfg.Timeout, err))
	}
	if err == nil && resp == nil {
		err = provider.Permanent(cfg.ID, errors.New("adapter returned no response"))
	}

	a := Attempt{
		Provider:   cfg.ID,
		Capability: cfg.Capability,
		Number:     n,
		Start:      start,
		End:        end,
		Latency:    end.Sub(start),
		Outcome:    outcomeOf(err),
	}
	if err != nil {
		a.ErrorKind = provider.Classify(err).String()
		a.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, a.ErrorKind)
	} else {
		resp.ProviderID = cfg.ID
		resp.Capability = cfg.Capability
		resp.Latency = a.Latency
	}
	span.SetAttributes(attribute.String("outcome", string(a.Outcome)))
	if p.observer != nil {
		p.observer.AttemptFinished(a)
	}
	return resp, a, err
}

// safeInvoke turns an adapter panic into a permanent error.
func safeInvoke(ctx context.Context, a provider.Adapter, req *provider.Request) (resp *provider.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = provider.Permanent(a.ID(), fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return a.Invoke(ctx, req)
}
