package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Paris - Wiki</title><style>body{color:red}</style></head>
<body>
<nav>Home | About</nav>
<h1>Paris</h1>
<p>Paris is the <b>capital</b> of France.</p>
<script>alert("x")</script>
<p>Population: 2.1 million.</p>
</body></html>`

func TestHTMLToText(t *testing.T) {
	title, text := htmlToText(samplePage)
	if title != "Paris - Wiki" {
		t.Errorf("title = %q", title)
	}
	want := "Paris\nParis is the capital of France.\nPopulation: 2.1 million."
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestHTTPFetcherKeepsOrderAndDropsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(samplePage))
		case "/b":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain body  "))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher("web", nil)
	resp, err := f.Invoke(context.Background(), &Request{
		URLs: []string{server.URL + "/b", server.URL + "/missing", server.URL + "/a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(resp.Documents))
	}
	if resp.Documents[0].Text != "plain body" {
		t.Errorf("doc[0] = %q", resp.Documents[0].Text)
	}
	if resp.Documents[1].Title != "Paris - Wiki" {
		t.Errorf("doc[1] title = %q", resp.Documents[1].Title)
	}
}

func TestHTTPFetcherAllFailReturnsFirstError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := NewHTTPFetcher("web", nil)
	_, err := f.Invoke(context.Background(), &Request{URLs: []string{server.URL + "/down", server.URL + "/denied"}})
	if got := Classify(err); got != KindTransient {
		t.Errorf("kind = %v, want transient from first url", got)
	}
}

func TestHTTPFetcherTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", maxFetchBytes+10)))
	}))
	defer server.Close()

	f := NewHTTPFetcher("web", nil)
	resp, err := f.Invoke(context.Background(), &Request{URLs: []string{server.URL}})
	if err != nil {
		t.Fatal(err)
	}
	d := resp.Documents[0]
	if !d.Truncated || len(d.Text) != maxFetchBytes {
		t.Errorf("truncated = %v, len = %d", d.Truncated, len(d.Text))
	}
}

func TestHTTPFetcherTruncatesOnRuneBoundary(t *testing.T) {
	// 3-byte runes put the byte limit in the middle of a sequence.
	text := strings.Repeat("€", maxFetchBytes/3+10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	}))
	defer server.Close()

	f := NewHTTPFetcher("web", nil)
	resp, err := f.Invoke(context.Background(), &Request{URLs: []string{server.URL}})
	if err != nil {
		t.Fatal(err)
	}
	d := resp.Documents[0]
	if !d.Truncated {
		t.Error("expected truncation")
	}
	if !utf8.ValidString(d.Text) {
		t.Errorf("truncated text is not valid UTF-8, ends with %q", d.Text[len(d.Text)-3:])
	}
	if len(d.Text) > maxFetchBytes || len(d.Text) < maxFetchBytes-3 {
		t.Errorf("len = %d, want just under %d", len(d.Text), maxFetchBytes)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"€€", 4, "€"},
		{"€", 2, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestHTTPFetcherRejectsBadURL(t *testing.T) {
	f := NewHTTPFetcher("web", nil)
	_, err := f.Invoke(context.Background(), &Request{URLs: []string{"ftp://example.com/x"}})
	if got := Classify(err); got != KindValidation {
		t.Errorf("kind = %v, want validation", got)
	}
}

func TestHTTPFetcherTargetStatusesNeverQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/paywall":
			w.WriteHeader(http.StatusPaymentRequired)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("quota exceeded for this billing period"))
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	tests := []struct {
		path string
		want Kind
	}{
		{"/paywall", KindValidation},
		{"/busy", KindTransient},
		{"/gone", KindValidation},
		{"/upstream", KindTransient},
	}
	f := NewHTTPFetcher("web", nil)
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := f.Invoke(context.Background(), &Request{URLs: []string{server.URL + tt.path}})
			if got := Classify(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}
