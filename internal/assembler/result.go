package assembler

import (
	"encoding/json"

	"github.com/opentalon/agentrouter/internal/failover"
	"github.com/opentalon/agentrouter/internal/provider"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

type ErrorCode string

const (
	CodeValidation   ErrorCode = "validation_error"
	CodeTransient    ErrorCode = "transient_error"
	CodePermanent    ErrorCode = "permanent_error"
	CodeQuota        ErrorCode = "quota_exceeded"
	CodeNoProvider   ErrorCode = "no_provider_available"
	CodeGraphTimeout ErrorCode = "graph_timeout"
	CodeCanceled     ErrorCode = "canceled"
	CodeGraph        ErrorCode = "graph_error"
	CodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
}

type Source struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
	// Fetched is true when the full page text was retrieved.
	Fetched bool `json:"fetched"`
}

type StepSummary struct {
	Step       string              `json:"step"`
	Capability provider.Capability `json:"capability"`
	Status     string              `json:"status"`
	Provider   string              `json:"provider,omitempty"`
	Attempts   int                 `json:"attempts"`
	LatencyMS  int64               `json:"latency_ms"`
	Error      string              `json:"error,omitempty"`
}

// Result is the structured response of one run. Every run produces one,
// including runs that failed.
type Result struct {
	QueryID    string                `json:"query_id"`
	Status     Status                `json:"status"`
	Content    string                `json:"content"`
	Structured json.RawMessage       `json:"structured,omitempty"`
	Snippets   []provider.Snippet    `json:"snippets,omitempty"`
	Sources    []Source              `json:"sources,omitempty"`
	Providers  []string              `json:"providers"`
	Steps      []StepSummary         `json:"steps"`
	Fallbacks  []failover.Fallback   `json:"fallbacks,omitempty"`
	Degraded   []provider.Capability `json:"degraded,omitempty"`
	Usage      provider.Usage        `json:"usage"`
	Error      *Error                `json:"error,omitempty"`
	CacheHit   bool                  `json:"cache_hit"`
	DurationMS int64                 `json:"duration_ms"`
}

// Failed builds the result for a run that could not produce a trace.
func Failed(queryID string, code ErrorCode, message string) *Result {
	return &Result{
		QueryID:   queryID,
		Status:    StatusFailed,
		Providers: []string{},
		Steps:     []StepSummary{},
		Error:     &Error{Code: code, Message: message},
	}
}
