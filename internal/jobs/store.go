// Package jobs provides the priority job queue: at-least-once deferred
// execution with retry, exponential backoff, and a dead letter queue.
package jobs

import (
	"context"
	"time"
)

// Store defines the shared-store operations the queue needs.
// Implemented by kv.Client.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	LPush(ctx context.Context, key, value string) error
	RPop(ctx context.Context, key string) (value string, found bool, err error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
