package provider

import (
	"errors"
	"net/url"
	"strings"
)

// Validate checks that req carries the input c needs.
func (req *Request) Validate(c Capability) error {
	if req == nil {
		return Validationf("nil request")
	}
	switch c {
	case CapabilitySearch:
		if strings.TrimSpace(req.Query) == "" {
			return Validationf("search query is empty")
		}
		if req.MaxResults < 0 {
			return Validationf("max results must not be negative")
		}
	case CapabilityFetch:
		if len(req.URLs) == 0 {
			return Validationf("fetch needs at least one url")
		}
		for _, raw := range req.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return Validationf("invalid fetch url %q", raw)
			}
		}
	case CapabilityCompletion:
		hasUser := false
		for _, m := range req.Messages {
			if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
				hasUser = true
			}
		}
		if !hasUser {
			return Validationf("completion needs a non-empty user message")
		}
		if req.MaxTokens < 0 {
			return Validationf("max tokens must not be negative")
		}
	default:
		return Validationf("unknown capability %q", c)
	}
	return nil
}

// SystemPrompt returns the first system message, if any.
func (req *Request) SystemPrompt() string {
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// validate runs Validate and tags a failure with the adapter id.
func validate(providerID string, req *Request, c Capability) error {
	if err := req.Validate(c); err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			pe.Provider = providerID
		}
		return err
	}
	return nil
}
