package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.0-flash"
)

// Gemini implements the completion capability for the Google Generative
// Language generateContent endpoint.
type Gemini struct {
	id      string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewGemini(id, baseURL, apiKey, model string, client *http.Client) *Gemini {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	return &Gemini{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  defaultClient(client, 120*time.Second),
	}
}

func (g *Gemini) ID() string { return g.id }

func (g *Gemini) Capability() Capability { return CapabilityCompletion }

type gemPart struct {
	Text string `json:"text"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

type gemGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type gemRequest struct {
	SystemInstruction *gemContent          `json:"systemInstruction,omitempty"`
	Contents          []gemContent         `json:"contents"`
	GenerationConfig  *gemGenerationConfig `json:"generationConfig,omitempty"`
}

type gemResponse struct {
	Candidates []struct {
		Content      gemContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (g *Gemini) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(g.id, req, CapabilityCompletion); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = g.model
	}
	endpoint := g.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	h := http.Header{}
	h.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	var resp gemResponse
	if err := doJSON(ctx, g.client, g.id, http.MethodPost, endpoint, h, g.toGemRequest(req), &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, &Error{Kind: KindTransient, Provider: g.id, Message: "response has no candidates"}
	}

	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return &Response{
		ProviderID: g.id,
		Capability: CapabilityCompletion,
		Latency:    time.Since(start),
		Text:       strings.Join(parts, ""),
		Model:      model,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (g *Gemini) toGemRequest(req *Request) gemRequest {
	out := gemRequest{}
	if sys := req.SystemPrompt(); sys != "" {
		out.SystemInstruction = &gemContent{Parts: []gemPart{{Text: sys}}}
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// carried in SystemInstruction
		case RoleAssistant:
			out.Contents = append(out.Contents, gemContent{Role: "model", Parts: []gemPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, gemContent{Role: "user", Parts: []gemPart{{Text: m.Content}}})
		}
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		out.GenerationConfig = &gemGenerationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}
	}
	return out
}
