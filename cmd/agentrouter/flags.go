package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opentalon/agentrouter/internal/provider"
)

// preferFlag collects repeated -prefer capability=provider pairs.
type preferFlag map[provider.Capability]string

func (p preferFlag) String() string {
	pairs := make([]string, 0, len(p))
	for c, id := range p {
		pairs = append(pairs, string(c)+"="+id)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (p preferFlag) Set(v string) error {
	name, id, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("want capability=provider, got %q", v)
	}
	c, err := provider.ParseCapability(name)
	if err != nil {
		return err
	}
	p[c] = strings.TrimSpace(id)
	return nil
}
