package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Availability reports whether a provider may currently be selected.
// The circuit breakers implement it.
type Availability interface {
	Available(providerID string) bool
}

// Candidate is an adapter paired with its static configuration.
type Candidate struct {
	Adapter Adapter
	Config  Config
}

type Registry struct {
	mu    sync.RWMutex
	byCap map[Capability][]Candidate
	byID  map[string]Candidate
	avail Availability
}

// NewRegistry returns an empty registry. A nil avail treats every
// provider as available.
func NewRegistry(avail Availability) *Registry {
	return &Registry{
		byCap: make(map[Capability][]Candidate),
		byID:  make(map[string]Candidate),
		avail: avail,
	}
}

func (r *Registry) Register(a Adapter, cfg Config) error {
	if cfg.ID == "" {
		cfg.ID = a.ID()
	}
	if cfg.ID != a.ID() {
		return fmt.Errorf("provider %q: config id %q does not match adapter", a.ID(), cfg.ID)
	}
	if cfg.Capability == "" {
		cfg.Capability = a.Capability()
	}
	if cfg.Capability != a.Capability() {
		return fmt.Errorf("provider %q: configured as %s but adapter serves %s", cfg.ID, cfg.Capability, a.Capability())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[cfg.ID]; exists {
		return fmt.Errorf("provider %q already registered", cfg.ID)
	}
	c := Candidate{Adapter: a, Config: cfg}
	r.byID[cfg.ID] = c
	list := append(r.byCap[cfg.Capability], c)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Config.Priority != list[j].Config.Priority {
			return list[i].Config.Priority < list[j].Config.Priority
		}
		return list[i].Config.ID < list[j].Config.ID
	})
	r.byCap[cfg.Capability] = list
	return nil
}

func (r *Registry) Get(id string) (Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return Candidate{}, fmt.Errorf("provider %q not found", id)
	}
	return c, nil
}

// Candidates returns the available adapters for c in priority order. A
// preferred provider that is available is moved to the front; the rest
// keep their order so fallback still applies.
func (r *Registry) Candidates(c Capability, preferred string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.byCap[c]
	out := make([]Candidate, 0, len(all))
	for _, cand := range all {
		if r.avail != nil && !r.avail.Available(cand.Config.ID) {
			continue
		}
		out = append(out, cand)
	}
	if preferred == "" {
		return out
	}
	for i, cand := range out {
		if cand.Config.ID == preferred {
			copy(out[1:i+1], out[:i])
			out[0] = cand
			break
		}
	}
	return out
}

// Serves reports whether any adapter is registered for c, whatever its
// breaker state.
func (r *Registry) Serves(c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCap[c]) > 0
}

// List returns every registered candidate ordered by capability, then
// priority.
func (r *Registry) List() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := []Capability{CapabilitySearch, CapabilityFetch, CapabilityCompletion}
	result := make([]Candidate, 0, len(r.byID))
	for _, c := range caps {
		result = append(result, r.byCap[c]...)
	}
	return result
}
