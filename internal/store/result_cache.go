package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ResultCache persists assembled results keyed by query fingerprint.
type ResultCache struct {
	db *DB
}

func NewResultCache(db *DB) *ResultCache {
	return &ResultCache{db: db}
}

// Get returns the payload stored under key if it has not expired by now.
func (c *ResultCache) Get(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	var payload string
	err := c.db.db.QueryRowContext(ctx,
		c.db.rebind("SELECT payload FROM result_cache WHERE cache_key = ? AND expires_at > ?"),
		key, now.UnixMilli(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("result cache: get: %w", err)
	}
	return []byte(payload), true, nil
}

// Set stores value under key until expiresAt, replacing any previous entry.
func (c *ResultCache) Set(ctx context.Context, key string, value []byte, now, expiresAt time.Time) error {
	_, err := c.db.db.ExecContext(ctx, c.db.rebind(`
		INSERT INTO result_cache (cache_key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`),
		key, string(value), now.UnixMilli(), expiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("result cache: set: %w", err)
	}
	return nil
}

// Prune deletes entries that expired at or before now and reports how many
// were removed.
func (c *ResultCache) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := c.db.db.ExecContext(ctx, c.db.rebind("DELETE FROM result_cache WHERE expires_at <= ?"), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("result cache: prune: %w", err)
	}
	return res.RowsAffected()
}
