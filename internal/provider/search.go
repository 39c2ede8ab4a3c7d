package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	braveDefaultBaseURL  = "https://api.search.brave.com/res/v1"
	tavilyDefaultBaseURL = "https://api.tavily.com"
	defaultMaxResults    = 5
	searchTimeout        = 10 * time.Second
)

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// waitTurn blocks on the client-side limiter and reports a wait cut short
// by ctx in the failure taxonomy.
func waitTurn(ctx context.Context, providerID string, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: Classify(ctx.Err()), Provider: providerID, Err: ctx.Err()}
		}
		// The limiter refuses waits that would overrun the deadline.
		return Transient(providerID, err)
	}
	return nil
}

func maxResults(req *Request) int {
	if req.MaxResults > 0 {
		return req.MaxResults
	}
	return defaultMaxResults
}

// Brave uses the Brave Search API. An API key is required via
// X-Subscription-Token; the free tier allows one request per second.
type Brave struct {
	id      string
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
}

func NewBrave(id, baseURL, apiKey string, perSecond float64, client *http.Client) *Brave {
	if baseURL == "" {
		baseURL = braveDefaultBaseURL
	}
	return &Brave{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: newLimiter(perSecond),
		client:  defaultClient(client, searchTimeout),
	}
}

func (b *Brave) ID() string { return b.id }

func (b *Brave) Capability() Capability { return CapabilitySearch }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(b.id, req, CapabilitySearch); err != nil {
		return nil, err
	}
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, &Error{Kind: KindPermanent, Provider: b.id, Message: "API key is missing"}
	}
	if err := waitTurn(ctx, b.id, b.limiter); err != nil {
		return nil, err
	}

	limit := maxResults(req)
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("count", strconv.Itoa(limit))
	h := http.Header{}
	h.Set("X-Subscription-Token", b.apiKey)

	start := time.Now()
	var payload braveResponse
	if err := doJSON(ctx, b.client, b.id, http.MethodGet, b.baseURL+"/web/search?"+q.Encode(), h, nil, &payload); err != nil {
		return nil, err
	}

	snippets := make([]Snippet, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		snippets = append(snippets, Snippet{Title: r.Title, URL: r.URL, Text: r.Description})
		if len(snippets) >= limit {
			break
		}
	}
	return &Response{
		ProviderID: b.id,
		Capability: CapabilitySearch,
		Latency:    time.Since(start),
		Snippets:   snippets,
	}, nil
}

// Tavily calls the Tavily search API.
type Tavily struct {
	id      string
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth string
}

func NewTavily(id, baseURL, apiKey string, perSecond float64, client *http.Client) *Tavily {
	if baseURL == "" {
		baseURL = tavilyDefaultBaseURL
	}
	return &Tavily{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: newLimiter(perSecond),
		client:  defaultClient(client, searchTimeout),
		Depth:   "basic",
	}
}

func (t *Tavily) ID() string { return t.id }

func (t *Tavily) Capability() Capability { return CapabilitySearch }

type tavilyRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(t.id, req, CapabilitySearch); err != nil {
		return nil, err
	}
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, &Error{Kind: KindPermanent, Provider: t.id, Message: "API key is missing"}
	}
	if err := waitTurn(ctx, t.id, t.limiter); err != nil {
		return nil, err
	}

	limit := maxResults(req)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.apiKey)

	start := time.Now()
	var payload tavilyResponse
	body := tavilyRequest{Query: req.Query, SearchDepth: t.Depth, MaxResults: limit}
	if err := doJSON(ctx, t.client, t.id, http.MethodPost, t.baseURL+"/search", h, body, &payload); err != nil {
		return nil, err
	}

	snippets := make([]Snippet, 0, len(payload.Results))
	for _, r := range payload.Results {
		snippets = append(snippets, Snippet{Title: r.Title, URL: r.URL, Text: r.Content})
		if len(snippets) >= limit {
			break
		}
	}
	return &Response{
		ProviderID: t.id,
		Capability: CapabilitySearch,
		Latency:    time.Since(start),
		Snippets:   snippets,
	}, nil
}
