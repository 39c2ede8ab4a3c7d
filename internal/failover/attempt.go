package failover

import (
	"time"

	"github.com/opentalon/agentrouter/internal/provider"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient_failure"
	OutcomePermanent Outcome = "permanent_failure"
)

// Attempt records one adapter invocation. It is never modified after the
// policy creates it.
type Attempt struct {
	Provider   string              `json:"provider"`
	Capability provider.Capability `json:"capability"`
	Number     int                 `json:"number"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Latency    time.Duration       `json:"latency"`
	Outcome    Outcome             `json:"outcome"`
	// ErrorKind and Error are empty on success.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// outcomeOf maps a call error to an attempt outcome. Cancellation is
// reported as transient since the provider itself did not refuse.
func outcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch provider.Classify(err) {
	case provider.KindTransient, provider.KindCanceled:
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}
