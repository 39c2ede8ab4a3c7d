package failover

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opentalon/agentrouter/internal/correlation"
	"github.com/opentalon/agentrouter/internal/provider"
)

// ExecOptions tune one Execute call.
type ExecOptions struct {
	// Preferred is moved to the front of the candidate list when available.
	Preferred string
	// StopOnFirstFailure gives up after the first candidate fails instead
	// of falling back through the whole capability class.
	StopOnFirstFailure bool
}

// Fallback records a switch from a failed provider to the next candidate.
type Fallback struct {
	Capability provider.Capability `json:"capability"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Reason     string              `json:"reason"`
}

// Execution is everything one capability call produced: the winning
// response, if any, and the full attempt history.
type Execution struct {
	Response  *provider.Response
	Provider  string
	Attempts  []Attempt
	Fallbacks []Fallback
}

type Controller struct {
	registry *provider.Registry
	policy   *Policy
	logger   *slog.Logger
}

func NewController(registry *provider.Registry, policy *Policy, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{registry: registry, policy: policy, logger: logger}
}

// Serves reports whether any provider is registered for capability.
func (c *Controller) Serves(capability provider.Capability) bool {
	return c.registry.Serves(capability)
}

// Execute runs req against the candidates for c in order, falling back on
// failure. The returned Execution is never nil. Errors are a validation
// error from req, the context error when ctx ends, or *NoProviderError.
func (c *Controller) Execute(ctx context.Context, capability provider.Capability, req *provider.Request, opts ExecOptions) (*Execution, error) {
	exec := &Execution{}
	if err := req.Validate(capability); err != nil {
		return exec, err
	}

	candidates := c.registry.Candidates(capability, opts.Preferred)
	attempted := make([]string, 0, len(candidates))
	var (
		lastErr error
		pending *Fallback
	)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return exec, err
		}
		id := cand.Config.ID
		if containsID(attempted, id) {
			continue
		}

		resp, attempts, err := c.policy.Call(ctx, cand, req)
		if errors.Is(err, ErrCircuitOpen) {
			c.logger.Debug("skipping provider with open circuit",
				slog.String("query_id", correlation.QueryID(ctx)),
				slog.String("provider", id),
				slog.String("capability", string(capability)),
			)
			continue
		}
		attempted = append(attempted, id)
		exec.Attempts = append(exec.Attempts, attempts...)
		if pending != nil {
			pending.To = id
			exec.Fallbacks = append(exec.Fallbacks, *pending)
			pending = nil
		}

		if err == nil {
			exec.Response = resp
			exec.Provider = id
			return exec, nil
		}

		kind := provider.Classify(err)
		if kind == provider.KindValidation || kind == provider.KindCanceled || ctx.Err() != nil {
			return exec, err
		}
		c.logger.Warn("provider call failed",
			slog.String("query_id", correlation.QueryID(ctx)),
			slog.String("provider", id),
			slog.String("capability", string(capability)),
			slog.String("kind", kind.String()),
			slog.Int("attempts", len(attempts)),
			slog.String("error", err.Error()),
		)
		lastErr = err
		if opts.StopOnFirstFailure {
			break
		}
		pending = &Fallback{Capability: capability, From: id, Reason: kind.String()}
	}

	return exec, &NoProviderError{Capability: capability, Attempted: attempted, Last: lastErr}
}

func containsID(ids []string, id string) bool {
	for _, item := range ids {
		if item == id {
			return true
		}
	}
	return false
}
