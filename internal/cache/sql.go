package cache

import (
	"context"
	"time"

	"github.com/opentalon/agentrouter/internal/store"
)

// SQL keeps entries in the store's result_cache table.
type SQL struct {
	db    *store.DB
	table *store.ResultCache
	now   func() time.Time
}

func NewSQL(db *store.DB, now func() time.Time) *SQL {
	if now == nil {
		now = time.Now
	}
	return &SQL{db: db, table: store.NewResultCache(db), now: now}
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.table.Get(ctx, key, s.now())
}

func (s *SQL) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	return s.table.Set(ctx, key, value, now, now.Add(ttl))
}

func (s *SQL) Prune(ctx context.Context) (int64, error) {
	return s.table.Prune(ctx, s.now())
}

func (s *SQL) Close() error {
	return s.db.Close()
}
