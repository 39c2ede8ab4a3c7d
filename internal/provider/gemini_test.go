package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeminiInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		var req gemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "sys" {
			t.Errorf("system instruction = %+v", req.SystemInstruction)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("contents = %+v", req.Contents)
		}
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Par"}, {"text": "is"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2},
			"modelVersion": "gemini-2.0-flash-001"
		}`))
	}))
	defer server.Close()

	g := NewGemini("gemini", server.URL, "g-key", "", nil)
	resp, err := g.Invoke(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "capital of France"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "Paris" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Model != "gemini-2.0-flash-001" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGeminiResourceExhaustedIsQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`))
	}))
	defer server.Close()

	g := NewGemini("gemini", server.URL, "g-key", "", nil)
	_, err := g.Invoke(context.Background(), &Request{Messages: userMessage("Hi")})
	if got := Classify(err); got != KindQuota {
		t.Errorf("kind = %v, want quota", got)
	}
}

func TestGeminiNoCandidatesIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	g := NewGemini("gemini", server.URL, "g-key", "", nil)
	_, err := g.Invoke(context.Background(), &Request{Messages: userMessage("Hi")})
	if got := Classify(err); got != KindTransient {
		t.Errorf("kind = %v, want transient", got)
	}
}
