package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/orchestrator"
	"github.com/opentalon/agentrouter/internal/provider"
)

// Assemble folds a trace into a Result. It performs no I/O and returns the
// same Result for the same trace.
func Assemble(tr *orchestrator.Trace) *Result {
	if tr == nil {
		return Failed("", CodeGraph, "no trace")
	}
	res := &Result{
		QueryID:    tr.Query.ID,
		Providers:  []string{},
		Steps:      make([]StepSummary, 0, len(tr.Steps)),
		Degraded:   tr.Degraded,
		DurationMS: tr.Duration.Milliseconds(),
	}

	seen := make(map[string]bool)
	for _, s := range tr.Steps {
		res.Steps = append(res.Steps, summarize(s))
		res.Fallbacks = append(res.Fallbacks, s.Fallbacks...)
		if s.Status != orchestrator.StepOK || s.Response == nil {
			continue
		}
		res.Usage = res.Usage.Add(s.Response.Usage)
		if s.Provider != "" && !seen[s.Provider] {
			seen[s.Provider] = true
			res.Providers = append(res.Providers, s.Provider)
		}
	}

	if search, ok := stepResult(tr, orchestrator.StepSearch); ok {
		res.Snippets = search.Response.Snippets
		res.Sources = sources(tr, search)
	}
	if synth, ok := tr.Succeeded(orchestrator.StepSynthesize); ok {
		res.Content = synth.Text
		if raw, ok := ExtractJSON(synth.Text); ok {
			res.Structured = json.RawMessage(raw)
		}
	} else if len(res.Snippets) > 0 && tr.Terminal != orchestrator.TerminalDone {
		res.Content = snippetDigest(res.Snippets)
	}

	switch tr.Terminal {
	case orchestrator.TerminalDone:
		res.Status = StatusOK
	case orchestrator.TerminalDegraded:
		res.Status = StatusDegraded
	default:
		res.Status = StatusFailed
	}
	if tr.Err != nil {
		res.Error = &Error{Code: Code(tr.Err), Message: tr.Err.Error(), Step: failedStep(tr)}
	} else if res.Status == StatusFailed {
		res.Error = &Error{Code: CodeGraph, Message: "run failed without a reason", Step: failedStep(tr)}
	}
	return res
}

// Code maps an error to its public error code.
func Code(err error) ErrorCode {
	var npe *failover.NoProviderError
	var pe *provider.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orchestrator.ErrGraphTimeout):
		return CodeGraphTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.As(err, &npe):
		return CodeNoProvider
	case errors.Is(err, orchestrator.ErrCycle), errors.Is(err, orchestrator.ErrUnknownStep):
		return CodeGraph
	case errors.As(err, &pe):
		switch pe.Kind {
		case provider.KindValidation:
			return CodeValidation
		case provider.KindQuota:
			return CodeQuota
		case provider.KindPermanent:
			return CodePermanent
		case provider.KindCanceled:
			return CodeCanceled
		default:
			return CodeTransient
		}
	case errors.Is(err, context.DeadlineExceeded):
		return CodeGraphTimeout
	default:
		return CodeInternal
	}
}

func summarize(s orchestrator.StepResult) StepSummary {
	sum := StepSummary{
		Step:       s.Step,
		Capability: s.Capability,
		Status:     string(s.Status),
		Provider:   s.Provider,
		Attempts:   len(s.Attempts),
		LatencyMS:  s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		sum.Error = s.Err.Error()
	}
	return sum
}

func stepResult(tr *orchestrator.Trace, name string) (*orchestrator.StepResult, bool) {
	s, ok := tr.Step(name)
	if !ok || s.Status != orchestrator.StepOK || s.Response == nil {
		return nil, false
	}
	return s, true
}

func sources(tr *orchestrator.Trace, search *orchestrator.StepResult) []Source {
	fetched := make(map[string]string)
	if fetch, ok := stepResult(tr, orchestrator.StepExtract); ok {
		for _, d := range fetch.Response.Documents {
			fetched[d.URL] = fetch.Provider
		}
	}
	var out []Source
	seen := make(map[string]bool)
	for _, sn := range search.Response.Snippets {
		if sn.URL == "" || seen[sn.URL] {
			continue
		}
		seen[sn.URL] = true
		src := Source{Title: sn.Title, URL: sn.URL, Provider: search.Provider}
		if p, ok := fetched[sn.URL]; ok {
			src.Provider = p
			src.Fetched = true
		}
		out = append(out, src)
	}
	return out
}

func snippetDigest(snippets []provider.Snippet) string {
	var sb strings.Builder
	for i, s := range snippets {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%d] ", i+1)
		if s.Title != "" {
			sb.WriteString(s.Title)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Text)
		if s.URL != "" {
			fmt.Fprintf(&sb, " (%s)", s.URL)
		}
	}
	return sb.String()
}

func failedStep(tr *orchestrator.Trace) string {
	for i := len(tr.Steps) - 1; i >= 0; i-- {
		if tr.Steps[i].Status == orchestrator.StepFailed {
			return tr.Steps[i].Step
		}
	}
	return ""
}
