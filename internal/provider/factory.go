package provider

import (
	"fmt"
	"net/http"
	"time"
)

const (
	VendorOpenAI    = "openai"
	VendorAnthropic = "anthropic"
	VendorGemini    = "gemini"
	VendorBrave     = "brave"
	VendorTavily    = "tavily"
	VendorHTTP      = "http"
)

// Config mirrors config.ProviderConfig to avoid circular imports.
type Config struct {
	ID            string
	Vendor        string
	Capability    Capability
	Priority      int
	Timeout       time.Duration
	MaxRetries    int
	BaseURL       string
	APIKey        string
	Model         string
	RatePerSecond float64

	FailureThreshold int
	Cooldown         time.Duration
	QuotaCooldown    time.Duration
}

// VendorCapability reports the capability class a vendor serves.
func VendorCapability(vendor string) (Capability, bool) {
	switch vendor {
	case VendorOpenAI, VendorAnthropic, VendorGemini:
		return CapabilityCompletion, true
	case VendorBrave, VendorTavily:
		return CapabilitySearch, true
	case VendorHTTP:
		return CapabilityFetch, true
	}
	return "", false
}

type factoryOptions struct {
	client *http.Client
}

// FactoryOption configures FromConfig.
type FactoryOption func(*factoryOptions)

// WithHTTPClient makes every adapter built by FromConfig share c.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(o *factoryOptions) { o.client = c }
}

// FromConfig creates an Adapter from a config entry. The vendor field
// determines which wire format to use.
func FromConfig(cfg Config, opts ...FactoryOption) (Adapter, error) {
	var fo factoryOptions
	for _, o := range opts {
		o(&fo)
	}
	want, ok := VendorCapability(cfg.Vendor)
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q for provider %q (supported: %s, %s, %s, %s, %s, %s)",
			cfg.Vendor, cfg.ID, VendorOpenAI, VendorAnthropic, VendorGemini, VendorBrave, VendorTavily, VendorHTTP)
	}
	if cfg.Capability != "" && cfg.Capability != want {
		return nil, fmt.Errorf("provider %q: vendor %s serves %s, not %s", cfg.ID, cfg.Vendor, want, cfg.Capability)
	}

	switch cfg.Vendor {
	case VendorOpenAI:
		var o []OpenAIOption
		if fo.client != nil {
			o = append(o, WithOpenAIHTTPClient(fo.client))
		}
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Model, o...), nil
	case VendorAnthropic:
		var o []AnthropicOption
		if fo.client != nil {
			o = append(o, WithAnthropicHTTPClient(fo.client))
		}
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Model, o...), nil
	case VendorGemini:
		return NewGemini(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Model, fo.client), nil
	case VendorBrave:
		return NewBrave(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.RatePerSecond, fo.client), nil
	case VendorTavily:
		return NewTavily(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.RatePerSecond, fo.client), nil
	default:
		return NewHTTPFetcher(cfg.ID, fo.client), nil
	}
}
