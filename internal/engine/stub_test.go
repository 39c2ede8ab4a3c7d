package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opentalon/agentrouter/internal/provider"
)

type stubAdapter struct {
	id  string
	cap provider.Capability
	fn  func(ctx context.Context, req *provider.Request) (*provider.Response, error)

	mu    sync.Mutex
	calls int
}

func (s *stubAdapter) ID() string                      { return s.id }
func (s *stubAdapter) Capability() provider.Capability { return s.cap }

func (s *stubAdapter) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, req)
}

func (s *stubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

const parisSnippet = "Paris is the capital and largest city of France."

func searchStub(id string) *stubAdapter {
	return &stubAdapter{id: id, cap: provider.CapabilitySearch, fn: func(context.Context, *provider.Request) (*provider.Response, error) {
		return &provider.Response{Snippets: []provider.Snippet{{
			Title: "Paris - Wikipedia",
			URL:   "https://en.wikipedia.org/wiki/Paris",
			Text:  parisSnippet,
		}}}, nil
	}}
}

// echoStub answers with the last user message so the test can see the
// search output flowed into the prompt.
func echoStub(id string) *stubAdapter {
	return &stubAdapter{id: id, cap: provider.CapabilityCompletion, fn: func(_ context.Context, req *provider.Request) (*provider.Response, error) {
		last := req.Messages[len(req.Messages)-1].Content
		return &provider.Response{Text: "Answer based on: " + last, Usage: provider.Usage{InputTokens: 40, OutputTokens: 12}}, nil
	}}
}

func failingStub(id string, c provider.Capability) *stubAdapter {
	return &stubAdapter{id: id, cap: c, fn: func(context.Context, *provider.Request) (*provider.Response, error) {
		return nil, &provider.Error{Kind: provider.KindTransient, Provider: id, StatusCode: 503, Message: "unavailable"}
	}}
}

func slowStub(id string, c provider.Capability, d time.Duration) *stubAdapter {
	return &stubAdapter{id: id, cap: c, fn: func(ctx context.Context, _ *provider.Request) (*provider.Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return &provider.Response{Snippets: []provider.Snippet{{Title: "late"}}}, nil
		}
	}}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
