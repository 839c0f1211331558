// Package ratelimit provides distributed sliding-window request
// throttling over the shared store, with a durable database fallback
// and a fail-closed grace policy for full outages.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Config is an immutable rate limit policy for one endpoint class.
type Config struct {
	Name        string
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string
}

// Decision is the outcome of one rate limit check. Every check yields
// a decision; the limiter never returns an error to its caller.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the window frees up. Set only
	// when the request was denied.
	RetryAfter int
}

// Store defines the sliding-window operations the limiter needs from
// the shared store. Implemented by kv.Client.
type Store interface {
	SlideWindow(ctx context.Context, key string, cutoff, score float64, member string, ttl time.Duration) (int64, error)
	OldestWindowScore(ctx context.Context, key string) (score float64, found bool, err error)
}

// Fallback is a durable request counter used when the shared store is
// unreachable. Implemented by the postgres subpackage.
type Fallback interface {
	// CountHit records a hit for key at now and returns the number of
	// hits inside the window including this one, plus the timestamp of
	// the oldest surviving hit.
	CountHit(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, oldest time.Time, err error)
}

// Limiter checks requests against a sliding window. The primary path
// runs against the shared store; when it errors the limiter degrades
// to the durable fallback, and when that also fails it applies the
// fail-closed grace policy: a few requests pass during the outage,
// then everything is denied until a store check succeeds again.
type Limiter struct {
	store    Store
	fallback Fallback
	grace    *GraceTracker

	now func() time.Time
}

// New creates a limiter. fallback may be nil, in which case store
// failures go straight to the grace policy.
func New(store Store, fallback Fallback, grace *GraceTracker) *Limiter {
	if grace == nil {
		grace = NewGraceTracker(DefaultGraceAllowance, DefaultGraceMaxEntries)
	}
	return &Limiter{
		store:    store,
		fallback: fallback,
		grace:    grace,
		now:      time.Now,
	}
}

// Check records a request for identifier under cfg and decides whether
// it is allowed. The sliding window tolerates slight over-counting
// under concurrent writers in the same millisecond; this is an
// approximate limiter.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Decision {
	now := l.now()

	decision, err := l.checkPrimary(ctx, identifier, cfg, now)
	if err == nil {
		l.grace.Clear(identifier)
		recordDecision(cfg.Name, tierPrimary, decision.Allowed)
		return decision
	}
	slog.Warn("rate limit store check failed, trying fallback",
		"class", cfg.Name,
		"identifier", identifier,
		"error", err,
	)

	if l.fallback != nil {
		decision, err = l.checkFallback(ctx, identifier, cfg, now)
		if err == nil {
			l.grace.Clear(identifier)
			recordDecision(cfg.Name, tierFallback, decision.Allowed)
			return decision
		}
		slog.Error("rate limit fallback check failed, applying grace policy",
			"class", cfg.Name,
			"identifier", identifier,
			"error", err,
		)
	}

	allowed := l.grace.Allow(identifier, now)
	decision = Decision{
		Allowed:   allowed,
		Remaining: 0,
		ResetAt:   now.Add(cfg.Window),
	}
	if !allowed {
		decision.RetryAfter = ceilSeconds(cfg.Window)
	}
	recordDecision(cfg.Name, tierGrace, allowed)
	return decision
}

func (l *Limiter) checkPrimary(ctx context.Context, identifier string, cfg Config, now time.Time) (Decision, error) {
	key := fmt.Sprintf("%s:%s", cfg.KeyPrefix, identifier)
	nowMs := now.UnixMilli()
	cutoff := float64(nowMs - cfg.Window.Milliseconds())
	// Unique member token avoids same-millisecond collisions.
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	ttl := time.Duration(ceilSeconds(cfg.Window)) * time.Second

	count, err := l.store.SlideWindow(ctx, key, cutoff, float64(nowMs), member, ttl)
	if err != nil {
		return Decision{}, err
	}

	resetAt := now.Add(cfg.Window)
	if score, found, err := l.store.OldestWindowScore(ctx, key); err == nil && found {
		resetAt = time.UnixMilli(int64(score)).Add(cfg.Window)
	}

	return l.decide(count, resetAt, cfg, now), nil
}

func (l *Limiter) checkFallback(ctx context.Context, identifier string, cfg Config, now time.Time) (Decision, error) {
	key := fmt.Sprintf("%s:%s", cfg.KeyPrefix, identifier)
	count, oldest, err := l.fallback.CountHit(ctx, key, cfg.Window, now)
	if err != nil {
		return Decision{}, err
	}

	resetAt := now.Add(cfg.Window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(cfg.Window)
	}
	return l.decide(count, resetAt, cfg, now), nil
}

func (l *Limiter) decide(count int64, resetAt time.Time, cfg Config, now time.Time) Decision {
	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= int64(cfg.MaxRequests),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = ceilSeconds(resetAt.Sub(now))
		if decision.RetryAfter < 1 {
			decision.RetryAfter = 1
		}
	}
	return decision
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
