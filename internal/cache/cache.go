// Package cache stores assembled results so repeated queries skip the
// provider calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

type Cache interface {
	// Get returns the value stored under key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Pruner is implemented by caches that need expired entries removed
// explicitly.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Key fingerprints a prompt together with its provider hints. Prompts that
// differ only in case or whitespace share a key.
func Key(prompt string, hints map[string]string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(prompt), " "))))

	names := make([]string, 0, len(hints))
	for k := range hints {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(hints[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
