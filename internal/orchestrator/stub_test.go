package orchestrator

import (
	"context"
	"sync"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/provider"
)

type execFunc func(ctx context.Context, req *provider.Request) (*provider.Response, error)

// stubExecutor answers each capability with a canned function and records
// the requests it saw.
type stubExecutor struct {
	mu    sync.Mutex
	funcs map[provider.Capability]execFunc
	reqs  map[provider.Capability][]*provider.Request
	opts  []failover.ExecOptions
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		funcs: make(map[provider.Capability]execFunc),
		reqs:  make(map[provider.Capability][]*provider.Request),
	}
}

func (s *stubExecutor) on(c provider.Capability, fn execFunc) *stubExecutor {
	s.funcs[c] = fn
	return s
}

func (s *stubExecutor) Execute(ctx context.Context, c provider.Capability, req *provider.Request, opts failover.ExecOptions) (*failover.Execution, error) {
	s.mu.Lock()
	s.reqs[c] = append(s.reqs[c], req)
	s.opts = append(s.opts, opts)
	fn := s.funcs[c]
	s.mu.Unlock()

	if fn == nil {
		return &failover.Execution{}, &failover.NoProviderError{Capability: c}
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return &failover.Execution{}, err
	}
	id := "stub-" + string(c)
	resp.ProviderID = id
	resp.Capability = c
	return &failover.Execution{
		Response: resp,
		Provider: id,
		Attempts: []failover.Attempt{{Provider: id, Capability: c, Number: 1, Outcome: failover.OutcomeSuccess}},
	}, nil
}

func (s *stubExecutor) requests(c provider.Capability) []*provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[c]
}

func snippets(snips ...provider.Snippet) execFunc {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Snippets: snips}, nil
	}
}

func completion(text string) execFunc {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Text: text}, nil
	}
}

func failing(err error) execFunc {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		return nil, err
	}
}

func okResponse(context.Context, *provider.Request) (*provider.Response, error) {
	return &provider.Response{Text: "ok"}, nil
}

var paris = provider.Snippet{Title: "Paris", URL: "https://example.com/paris", Text: "Paris is the capital of France."}
