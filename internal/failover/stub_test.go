package failover

import (
	"context"
	"sync"
	"time"

	"github.com/opentalon/agentrouter/internal/provider"
)

// scriptedAdapter returns errs[i] on call i and succeeds once the script
// runs out. A nil entry also succeeds.
type scriptedAdapter struct {
	mu    sync.Mutex
	id    string
	cap   provider.Capability
	errs  []error
	calls int
	delay time.Duration
}

func (s *scriptedAdapter) ID() string                      { return s.id }
func (s *scriptedAdapter) Capability() provider.Capability { return s.cap }

func (s *scriptedAdapter) Invoke(ctx context.Context, _ *provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return &provider.Response{Snippets: []provider.Snippet{{Title: "ok from " + s.id}}}, nil
}

func (s *scriptedAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func always(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

func transientErr(id string) error {
	return &provider.Error{Kind: provider.KindTransient, Provider: id, StatusCode: 503}
}

func searchReq() *provider.Request {
	return &provider.Request{Query: "capital of France"}
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu          sync.Mutex
	attempts    []Attempt
	transitions []string
}

func (r *recordingObserver) AttemptFinished(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recordingObserver) CircuitChanged(id string, from, to Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, id+":"+from.String()+"->"+to.String())
}
