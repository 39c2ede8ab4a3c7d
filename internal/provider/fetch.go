package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	maxFetchBytes    = 32 * 1024 // keep LLM context small
	maxFetchDownload = 2 << 20
	fetchParallelism = 4
	fetchTimeout     = 15 * time.Second
)

// HTTPFetcher retrieves page text for the fetch capability.
type HTTPFetcher struct {
	id     string
	client *http.Client
}

func NewHTTPFetcher(id string, client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{id: id, client: defaultClient(client, fetchTimeout)}
}

func (f *HTTPFetcher) ID() string { return f.id }

func (f *HTTPFetcher) Capability() Capability { return CapabilityFetch }

// Invoke fetches every URL in parallel. Documents keep the order of
// req.URLs; URLs that fail are dropped. The call fails only when no URL
// could be read, with the error of the first URL.
func (f *HTTPFetcher) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(f.id, req, CapabilityFetch); err != nil {
		return nil, err
	}

	start := time.Now()
	docs := make([]*Document, len(req.URLs))
	errs := make([]error, len(req.URLs))

	var g errgroup.Group
	g.SetLimit(fetchParallelism)
	for i, u := range req.URLs {
		g.Go(func() error {
			docs[i], errs[i] = f.fetchOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	out := &Response{ProviderID: f.id, Capability: CapabilityFetch}
	for _, d := range docs {
		if d != nil {
			out.Documents = append(out.Documents, *d)
		}
	}
	if len(out.Documents) == 0 {
		return nil, errs[0]
	}
	out.Latency = time.Since(start)
	return out, nil
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, rawURL string) (*Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Permanent(f.id, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("User-Agent", "agentrouter/1.0 (+fetch)")
	httpReq.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: Classify(ctx.Err()), Provider: f.id, Err: ctx.Err()}
		}
		return nil, Transient(f.id, fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchDownload))
	if err != nil {
		return nil, Transient(f.id, fmt.Errorf("read %s: %w", rawURL, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, f.pageError(rawURL, resp.StatusCode)
	}

	doc := &Document{URL: rawURL}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") || looksLikeHTML(body) {
		doc.Title, doc.Text = htmlToText(string(body))
	} else {
		doc.Text = strings.TrimSpace(string(body))
	}
	if len(doc.Text) > maxFetchBytes {
		doc.Text = truncateRunes(doc.Text, maxFetchBytes)
		doc.Truncated = true
	}
	return doc, nil
}

// pageError classifies a target page's status. Those pages are not the
// fetcher's vendor, so their statuses never mean quota: server trouble is
// retried, and a page that refuses or is missing is rejected input that
// does not count against the fetcher's circuit.
func (f *HTTPFetcher) pageError(rawURL string, status int) *Error {
	e := &Error{
		Kind:       KindValidation,
		Provider:   f.id,
		StatusCode: status,
		Message:    "fetch " + rawURL,
	}
	if status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		e.Kind = KindTransient
	}
	return e
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8
// sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:min(len(b), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "nav": true, "footer": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "table": true, "pre": true,
}

// htmlToText returns the document title and its visible text with block
// elements on separate lines.
func htmlToText(src string) (title, text string) {
	z := html.NewTokenizer(strings.NewReader(src))
	var sb strings.Builder
	skipDepth := 0
	inTitle := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(title), collapseLines(sb.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = true
			}
			if skipElements[tag] && tt == html.StartTagToken {
				skipDepth++
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
			}
			if skipElements[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if inTitle {
				title += string(z.Text())
				continue
			}
			if skipDepth > 0 {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
