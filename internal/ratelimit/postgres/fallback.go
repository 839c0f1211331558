// Package postgres provides the durable rate limit fallback counter.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fallback implements ratelimit.Fallback using PostgreSQL. It keeps
// the same sliding-window semantics as the primary store: record the
// hit, prune expired hits, count survivors.
type Fallback struct {
	db *pgxpool.Pool
}

// NewFallback creates a fallback counter.
func NewFallback(db *pgxpool.Pool) *Fallback {
	return &Fallback{db: db}
}

// CountHit records one hit and returns the in-window hit count plus
// the oldest surviving hit time. All three statements go out in a
// single batch round trip.
func (f *Fallback) CountHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	cutoff := now.Add(-window)

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO rate_limit_hits (key, hit_at) VALUES ($1, $2)`, key, now)
	batch.Queue(`DELETE FROM rate_limit_hits WHERE key = $1 AND hit_at < $2`, key, cutoff)
	batch.Queue(`SELECT COUNT(*), MIN(hit_at) FROM rate_limit_hits WHERE key = $1`, key)

	results := f.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	if _, err := results.Exec(); err != nil {
		return 0, time.Time{}, fmt.Errorf("record rate limit hit: %w", err)
	}
	if _, err := results.Exec(); err != nil {
		return 0, time.Time{}, fmt.Errorf("prune rate limit hits: %w", err)
	}

	var count int64
	var oldest *time.Time
	if err := results.QueryRow().Scan(&count, &oldest); err != nil {
		return 0, time.Time{}, fmt.Errorf("count rate limit hits: %w", err)
	}

	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}
