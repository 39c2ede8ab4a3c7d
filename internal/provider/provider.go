package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Capability string

const (
	CapabilitySearch     Capability = "search"
	CapabilityFetch      Capability = "fetch"
	CapabilityCompletion Capability = "completion"
)

func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case CapabilitySearch, CapabilityFetch, CapabilityCompletion:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q (supported: %s, %s, %s)",
			s, CapabilitySearch, CapabilityFetch, CapabilityCompletion)
	}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the capability-agnostic adapter input. Only the fields for
// the adapter's capability are read.
type Request struct {
	// search
	Query      string
	MaxResults int

	// fetch
	URLs []string

	// completion
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type Snippet struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

type Document struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Response is the normalized adapter output.
type Response struct {
	ProviderID string
	Capability Capability
	Latency    time.Duration

	Snippets  []Snippet
	Documents []Document

	Text  string
	Model string
	Usage Usage
}

// Adapter wraps one external capability endpoint. Implementations must
// reject invalid input with a KindValidation error before touching the
// network.
type Adapter interface {
	ID() string
	Capability() Capability
	Invoke(ctx context.Context, req *Request) (*Response, error)
}
