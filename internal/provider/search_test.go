package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBraveInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/web/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "capital of France" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "2" {
			t.Errorf("count = %q", got)
		}
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("token = %q", r.Header.Get("X-Subscription-Token"))
		}
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Paris","url":"https://en.wikipedia.org/wiki/Paris","description":"Paris is the capital of France."},
			{"title":"France","url":"https://en.wikipedia.org/wiki/France","description":"France is a country."},
			{"title":"Extra","url":"https://example.com","description":"ignored"}
		]}}`))
	}))
	defer server.Close()

	b := NewBrave("brave", server.URL, "brave-key", 0, nil)
	resp, err := b.Invoke(context.Background(), &Request{Query: "capital of France", MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Snippets) != 2 {
		t.Fatalf("snippets = %d, want 2", len(resp.Snippets))
	}
	if resp.Snippets[0].Text != "Paris is the capital of France." {
		t.Errorf("snippet[0] = %+v", resp.Snippets[0])
	}
	if resp.Capability != CapabilitySearch || resp.ProviderID != "brave" {
		t.Errorf("tags = %s/%s", resp.Capability, resp.ProviderID)
	}
}

func TestBraveMissingKeyIsPermanent(t *testing.T) {
	b := NewBrave("brave", "http://127.0.0.1:1", "", 0, nil)
	_, err := b.Invoke(context.Background(), &Request{Query: "x"})
	if got := Classify(err); got != KindPermanent {
		t.Errorf("kind = %v, want permanent", got)
	}
}

func TestBraveEmptyQueryIsValidation(t *testing.T) {
	b := NewBrave("brave", "http://127.0.0.1:1", "key", 0, nil)
	_, err := b.Invoke(context.Background(), &Request{Query: "  "})
	if got := Classify(err); got != KindValidation {
		t.Errorf("kind = %v, want validation", got)
	}
}

func TestBraveRateLimitCarriesReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Reset", "3, 1419704")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b := NewBrave("brave", server.URL, "key", 0, nil)
	_, err := b.Invoke(context.Background(), &Request{Query: "x"})
	if got := Classify(err); got != KindTransient {
		t.Errorf("kind = %v, want transient", got)
	}
	if d := RetryAfter(err); d.Seconds() != 3 {
		t.Errorf("retry after = %s, want 3s", d)
	}
}

func TestTavilyInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tvly-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Query != "capital of France" || req.SearchDepth != "basic" || req.MaxResults != 5 {
			t.Errorf("request = %+v", req)
		}
		results := make([]map[string]string, 0, 7)
		for i := 0; i < 7; i++ {
			results = append(results, map[string]string{
				"title":   fmt.Sprintf("r%d", i),
				"url":     fmt.Sprintf("https://example.com/%d", i),
				"content": "Paris",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer server.Close()

	tv := NewTavily("tavily", server.URL, "tvly-key", 0, nil)
	resp, err := tv.Invoke(context.Background(), &Request{Query: "capital of France"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Snippets) != defaultMaxResults {
		t.Errorf("snippets = %d, want %d", len(resp.Snippets), defaultMaxResults)
	}
}

func TestSearchLimiterHonorsCanceledContext(t *testing.T) {
	b := NewBrave("brave", "http://127.0.0.1:1", "key", 0.001, nil)
	// Drain the single burst token.
	b.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Invoke(ctx, &Request{Query: "x"})
	if got := Classify(err); got != KindCanceled {
		t.Errorf("kind = %v, want canceled (err %v)", got, err)
	}
}
