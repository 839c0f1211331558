package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWindowStore keeps sliding windows in memory, mirroring the
// ZREMRANGEBYSCORE/ZADD/ZCARD shape of the real store.
type fakeWindowStore struct {
	windows map[string][]float64
	err     error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{windows: make(map[string][]float64)}
}

func (s *fakeWindowStore) SlideWindow(_ context.Context, key string, cutoff, score float64, _ string, _ time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	var kept []float64
	for _, v := range s.windows[key] {
		if v > cutoff {
			kept = append(kept, v)
		}
	}
	kept = append(kept, score)
	s.windows[key] = kept
	return int64(len(kept)), nil
}

func (s *fakeWindowStore) OldestWindowScore(_ context.Context, key string) (float64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	window := s.windows[key]
	if len(window) == 0 {
		return 0, false, nil
	}
	oldest := window[0]
	for _, v := range window[1:] {
		if v < oldest {
			oldest = v
		}
	}
	return oldest, true, nil
}

type fakeFallback struct {
	hits map[string][]time.Time
	err  error
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{hits: make(map[string][]time.Time)}
}

func (f *fakeFallback) CountHit(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	cutoff := now.Add(-window)
	var kept []time.Time
	for _, hit := range f.hits[key] {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	kept = append(kept, now)
	f.hits[key] = kept
	return int64(len(kept)), kept[0], nil
}

var testConfig = Config{
	Name:        "test",
	Window:      time.Minute,
	MaxRequests: 3,
	KeyPrefix:   "ratelimit:test",
}

func newTestLimiter(store Store, fallback Fallback) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(store, fallback, NewGraceTracker(DefaultGraceAllowance, DefaultGraceMaxEntries))
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(newFakeWindowStore(), nil)

	for i := 1; i <= 3; i++ {
		d := l.Check(context.Background(), "1.2.3.4", testConfig)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining, "request %d", i)
		assert.Zero(t, d.RetryAfter)
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	l, _ := newTestLimiter(newFakeWindowStore(), nil)

	for i := 0; i < 3; i++ {
		l.Check(context.Background(), "1.2.3.4", testConfig)
	}

	d := l.Check(context.Background(), "1.2.3.4", testConfig)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
	assert.LessOrEqual(t, d.RetryAfter, 60)
}

func TestLimiter_WindowSlides(t *testing.T) {
	store := newFakeWindowStore()
	l, now := newTestLimiter(store, nil)

	for i := 0; i < 3; i++ {
		l.Check(context.Background(), "1.2.3.4", testConfig)
	}
	require.False(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)

	// Move past the window: the old entries fall out of the count
	*now = now.Add(testConfig.Window + time.Second)

	d := l.Check(context.Background(), "1.2.3.4", testConfig)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(newFakeWindowStore(), nil)

	for i := 0; i < 3; i++ {
		l.Check(context.Background(), "1.2.3.4", testConfig)
	}
	require.False(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)
	assert.True(t, l.Check(context.Background(), "5.6.7.8", testConfig).Allowed)
}

func TestLimiter_FallsBackWhenStoreFails(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	fallback := newFakeFallback()
	l, _ := newTestLimiter(store, fallback)

	for i := 1; i <= 3; i++ {
		d := l.Check(context.Background(), "1.2.3.4", testConfig)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d := l.Check(context.Background(), "1.2.3.4", testConfig)
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestLimiter_GraceWhenEverythingFails(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	fallback := newFakeFallback()
	fallback.err = errors.New("database down")
	l, _ := newTestLimiter(store, fallback)

	// Grace allowance lets a few requests through, then fails closed
	for i := 1; i <= DefaultGraceAllowance; i++ {
		d := l.Check(context.Background(), "1.2.3.4", testConfig)
		assert.True(t, d.Allowed, "grace request %d", i)
		assert.Equal(t, 0, d.Remaining)
	}

	d := l.Check(context.Background(), "1.2.3.4", testConfig)
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestLimiter_GraceWithoutFallback(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	l, _ := newTestLimiter(store, nil)

	for i := 1; i <= DefaultGraceAllowance; i++ {
		assert.True(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)
	}
	assert.False(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)
}

func TestLimiter_RecoveryClearsGrace(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	l, _ := newTestLimiter(store, nil)

	// Exhaust the grace allowance
	for i := 0; i <= DefaultGraceAllowance; i++ {
		l.Check(context.Background(), "1.2.3.4", testConfig)
	}
	require.False(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)

	// Store recovers: requests pass again and the counter resets
	store.err = nil
	require.True(t, l.Check(context.Background(), "1.2.3.4", testConfig).Allowed)

	store.err = errors.New("connection refused")
	d := l.Check(context.Background(), "1.2.3.4", testConfig)
	assert.True(t, d.Allowed, "grace allowance should have reset after recovery")
}

func TestGraceTracker_Allow(t *testing.T) {
	g := NewGraceTracker(2, 100)
	now := time.Now()

	assert.True(t, g.Allow("a", now))
	assert.True(t, g.Allow("a", now))
	assert.False(t, g.Allow("a", now))

	// Clear resets the counter
	g.Clear("a")
	assert.True(t, g.Allow("a", now))
}

func TestGraceTracker_FailsClosedWhenFull(t *testing.T) {
	g := NewGraceTracker(3, 2)
	now := time.Now()

	assert.True(t, g.Allow("a", now))
	assert.True(t, g.Allow("b", now))

	// Tracker full with fresh entries: new identifiers are denied
	assert.False(t, g.Allow("c", now))

	// Known identifiers still consume their allowance
	assert.True(t, g.Allow("a", now))
}

func TestGraceTracker_PrunesStaleEntries(t *testing.T) {
	g := NewGraceTracker(3, 2)
	now := time.Now()

	assert.True(t, g.Allow("a", now))
	assert.True(t, g.Allow("b", now))

	// Both entries go stale; a new identifier triggers the prune
	later := now.Add(graceEntryTTL + time.Minute)
	assert.True(t, g.Allow("c", later))
}

func TestPresets(t *testing.T) {
	presets := []Config{ReservationAttempts, CheckoutSubmissions, GeneralAPI, WebhookIngestion, HealthProbes}

	seen := make(map[string]bool)
	for _, p := range presets {
		assert.NotEmpty(t, p.Name)
		assert.Positive(t, p.Window)
		assert.Positive(t, p.MaxRequests)
		assert.True(t, strings.HasPrefix(p.KeyPrefix, "ratelimit:"), "%s key prefix", p.Name)
		assert.False(t, seen[p.KeyPrefix], "%s key prefix must be unique", p.Name)
		seen[p.KeyPrefix] = true
	}
}
