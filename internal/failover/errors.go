package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opentalon/agentrouter/internal/provider"
)

// ErrCircuitOpen is returned when a provider's breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit open")

// NoProviderError reports that no candidate for a capability produced a
// result, either because none were available or because all failed.
type NoProviderError struct {
	Capability provider.Capability
	Attempted  []string
	Last       error
}

func (e *NoProviderError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("no %s provider available", e.Capability)
	}
	msg := fmt.Sprintf("all %s providers failed, attempted: %s", e.Capability, strings.Join(e.Attempted, ", "))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *NoProviderError) Unwrap() error { return e.Last }
