package orchestrator

import (
	"log/slog"
	"strings"
	"time"

	"github.com/opentalon/agentrouter/internal/provider"
)

// Step names of the research pipeline.
const (
	StepSearch     = "search"
	StepExtract    = "extract"
	StepSynthesize = "synthesize"
)

const defaultSystemPrompt = "You are a research assistant. Answer the question concisely and accurately."

type GraphConfig struct {
	Deadline       time.Duration
	Degrade        DegradeMode
	FetchTopN      int
	MaxSnippets    int
	MaxSourceBytes int
	SystemPrompt   string
	Rules          []string
	MaxTokens      int
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Deadline:       60 * time.Second,
		Degrade:        DegradeExhaustion,
		FetchTopN:      3,
		MaxSnippets:    5,
		MaxSourceBytes: DefaultMaxSourceBytes,
	}
}

type research struct {
	cfg      GraphConfig
	guard    *Guard
	rules    *PromptRules
	coverage Coverage
}

// NewResearchGraph builds the search -> extract -> synthesize pipeline.
//
// A failed search still synthesizes without sources, and so does a search
// that found nothing; both leave search marked degraded. Extract is skipped when
// the executor reports no fetch provider, and a failed extract falls back
// to the search snippets. A failed synthesis degrades to the snippets
// when there are any and fails the run otherwise.
func NewResearchGraph(cfg GraphConfig, exec Executor, logger *slog.Logger) (*Graph, error) {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	r := &research{cfg: cfg, guard: NewGuard(cfg.MaxSourceBytes), rules: NewPromptRules(cfg.Rules)}
	if cov, ok := exec.(Coverage); ok {
		r.coverage = cov
	}
	opts := Options{Deadline: cfg.Deadline, Degrade: cfg.Degrade, Logger: logger}
	return NewGraph(exec, opts, StepSearch,
		Step{Name: StepSearch, Capability: provider.CapabilitySearch, Input: r.searchInput, Route: r.searchRoute},
		Step{Name: StepExtract, Capability: provider.CapabilityFetch, Input: r.extractInput, Route: r.extractRoute},
		Step{Name: StepSynthesize, Capability: provider.CapabilityCompletion, Input: r.synthesizeInput, Route: r.synthesizeRoute},
	)
}

func (r *research) searchInput(q Query, _ *Trace) (*provider.Request, error) {
	return &provider.Request{Query: q.Prompt, MaxResults: r.cfg.MaxSnippets}, nil
}

func (r *research) searchRoute(tr *Trace, res *StepResult) Transition {
	if res.Status == StepFailed {
		return Goto(StepSynthesize)
	}
	if res.Response == nil || len(res.Response.Snippets) == 0 {
		tr.markDegraded(provider.CapabilitySearch)
		return Goto(StepSynthesize)
	}
	return Goto(StepExtract)
}

func (r *research) extractInput(_ Query, tr *Trace) (*provider.Request, error) {
	if r.cfg.FetchTopN <= 0 {
		return nil, ErrSkip
	}
	if r.coverage != nil && !r.coverage.Serves(provider.CapabilityFetch) {
		return nil, ErrSkip
	}
	urls := make([]string, 0, r.cfg.FetchTopN)
	seen := make(map[string]bool)
	for _, s := range r.snippets(tr) {
		if s.URL == "" || seen[s.URL] || !isWebURL(s.URL) {
			continue
		}
		seen[s.URL] = true
		urls = append(urls, s.URL)
		if len(urls) == r.cfg.FetchTopN {
			break
		}
	}
	if len(urls) == 0 {
		return nil, ErrSkip
	}
	return &provider.Request{URLs: urls}, nil
}

func (r *research) extractRoute(*Trace, *StepResult) Transition {
	return Goto(StepSynthesize)
}

func (r *research) synthesizeInput(q Query, tr *Trace) (*provider.Request, error) {
	var system strings.Builder
	system.WriteString(r.cfg.SystemPrompt)
	system.WriteString("\n\n")
	system.WriteString(r.rules.Render())

	return &provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: system.String()},
			{Role: provider.RoleUser, Content: r.userPrompt(q, tr)},
		},
		MaxTokens: r.cfg.MaxTokens,
	}, nil
}

func (r *research) userPrompt(q Query, tr *Trace) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(q.Prompt))
	sb.WriteString("\n\n")

	sources := r.sources(tr)
	if len(sources) == 0 {
		sb.WriteString("No web sources are available. Answer from your own knowledge and say that no sources were consulted.")
		return sb.String()
	}
	sb.WriteString("Sources:\n")
	for i, src := range sources {
		sb.WriteString(src)
		if i < len(sources)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// sources renders the search results, substituting fetched page text for
// the snippet wherever the page was retrieved.
func (r *research) sources(tr *Trace) []string {
	docs := make(map[string]provider.Document)
	if resp, ok := tr.Succeeded(StepExtract); ok {
		for _, d := range resp.Documents {
			docs[d.URL] = d
		}
	}
	snippets := r.snippets(tr)
	out := make([]string, 0, len(snippets))
	for i, s := range snippets {
		text := s.Text
		if d, ok := docs[s.URL]; ok && strings.TrimSpace(d.Text) != "" {
			text = d.Text
		}
		out = append(out, r.guard.WrapSource(i+1, s.Title, s.URL, text))
	}
	return out
}

func (r *research) snippets(tr *Trace) []provider.Snippet {
	resp, ok := tr.Succeeded(StepSearch)
	if !ok {
		return nil
	}
	s := resp.Snippets
	if r.cfg.MaxSnippets > 0 && len(s) > r.cfg.MaxSnippets {
		s = s[:r.cfg.MaxSnippets]
	}
	return s
}

func (r *research) synthesizeRoute(tr *Trace, res *StepResult) Transition {
	if res.Status != StepFailed {
		return Done
	}
	if len(r.snippets(tr)) > 0 {
		return Degrade
	}
	return Fail
}

func isWebURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

