// Package kv provides a timeout-guarded client for the shared
// Redis-compatible store. Every operation runs under its own deadline
// and converts transport failures into a typed UnavailableError, so
// callers never hang on a dead store and can engage their fallbacks.
package kv

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds every individual store call.
const DefaultOpTimeout = 2 * time.Second

// Config contains shared store connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration
}

// Client wraps a Redis connection with per-operation timeouts.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

// New creates a store client.
func New(cfg Config) *Client {
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, opTimeout: timeout}
}

// NewWithClient wraps an existing Redis client. Used in tests.
func NewWithClient(rdb *redis.Client, opTimeout time.Duration) *Client {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Client{rdb: rdb, opTimeout: opTimeout}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks store reachability. Used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("PING", err)
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get returns the string value at key. found is false when the key
// does not exist; that is not an error.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	value, err = c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("GET", err)
	}
	return value, true, nil
}

// SetEX stores value at key with an expiry.
func (c *Client) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("SET", err)
	}
	return nil
}

// Del removes a key. Missing keys are not an error.
func (c *Client) Del(ctx context.Context, key string) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return unavailable("DEL", err)
	}
	return nil
}

// LPush prepends value to the list at key.
func (c *Client) LPush(ctx context.Context, key, value string) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.LPush(ctx, key, value).Err(); err != nil {
		return unavailable("LPUSH", err)
	}
	return nil
}

// RPop atomically removes and returns the tail of the list at key.
// found is false when the list is empty.
func (c *Client) RPop(ctx context.Context, key string) (value string, found bool, err error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	value, err = c.rdb.RPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("RPOP", err)
	}
	return value, true, nil
}

// LLen returns the length of the list at key.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, unavailable("LLEN", err)
	}
	return n, nil
}

// LRange returns list elements in [start, stop].
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	values, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, unavailable("LRANGE", err)
	}
	return values, nil
}

// Expire sets the TTL of a key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("EXPIRE", err)
	}
	return nil
}

// SlideWindow runs the sliding-window sequence against the sorted set
// at key in one pipelined batch: drop entries scored below cutoff, add
// the new member scored at score, count survivors, refresh the set TTL.
// Returns the surviving entry count including the new member.
func (c *Client) SlideWindow(ctx context.Context, key string, cutoff, score float64, member string, ttl time.Duration) (int64, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(cutoff))
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("window pipeline", err)
	}
	return card.Val(), nil
}

// OldestWindowScore returns the score of the lowest-scored member of
// the sorted set at key. found is false when the set is empty.
func (c *Client) OldestWindowScore(ctx context.Context, key string) (float64, bool, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	zs, err := c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, false, unavailable("ZRANGE", err)
	}
	if len(zs) == 0 {
		return 0, false, nil
	}
	return zs[0].Score, true, nil
}

// formatScore renders a millisecond timestamp score for range bounds.
func formatScore(score float64) string {
	n := int64(score)
	if n < 0 {
		n = 0
	}
	return strconv.FormatInt(n, 10)
}
