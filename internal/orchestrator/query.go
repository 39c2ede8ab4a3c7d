package orchestrator

import (
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/opentalon/agentrouter/internal/provider"
)

// Query is the read-only input of one run.
type Query struct {
	// ID correlates logs, spans and the assembled result.
	ID     string
	Prompt string
	// Preferred maps a capability to a provider id that should be tried
	// first when available.
	Preferred map[provider.Capability]string
	// NoCache skips the result cache lookup for this query.
	NoCache bool
}

// NewQuery returns a query with a fresh correlation id.
func NewQuery(prompt string) Query {
	return Query{ID: uuid.NewString(), Prompt: prompt}
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return provider.Validationf("query prompt is empty")
	}
	for c, id := range q.Preferred {
		if _, err := provider.ParseCapability(string(c)); err != nil {
			return provider.Validationf("preferred provider %q: %v", id, err)
		}
	}
	return nil
}

// normalized returns a copy with an id assigned and the preference map
// detached from the caller's.
func (q Query) normalized() Query {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.Preferred = maps.Clone(q.Preferred)
	return q
}

func (q Query) PreferredFor(c provider.Capability) string {
	return q.Preferred[c]
}
