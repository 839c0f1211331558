package ratelimit

import (
	"sync"
	"time"
)

// Grace policy defaults.
const (
	DefaultGraceAllowance  = 3
	DefaultGraceMaxEntries = 10000

	// graceEntryTTL bounds how long an identifier's outage counter is
	// kept without being touched.
	graceEntryTTL = 10 * time.Minute
)

// GraceTracker tracks consecutive store failures per identifier in
// process memory. During a full outage it lets a small number of
// requests through, then denies everything for that identifier until
// a store check succeeds again. State is best-effort: it is not shared
// across processes and resets on restart.
type GraceTracker struct {
	mu         sync.Mutex
	entries    map[string]*graceEntry
	allowance  int
	maxEntries int
}

type graceEntry struct {
	failures int
	lastSeen time.Time
}

// NewGraceTracker creates a tracker allowing `allowance` requests per
// identifier during an outage, holding at most maxEntries identifiers.
func NewGraceTracker(allowance, maxEntries int) *GraceTracker {
	if allowance <= 0 {
		allowance = DefaultGraceAllowance
	}
	if maxEntries <= 0 {
		maxEntries = DefaultGraceMaxEntries
	}
	return &GraceTracker{
		entries:    make(map[string]*graceEntry),
		allowance:  allowance,
		maxEntries: maxEntries,
	}
}

// Allow records an outage-time request for identifier and reports
// whether it may pass.
func (g *GraceTracker) Allow(identifier string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[identifier]
	if !ok {
		if len(g.entries) >= g.maxEntries {
			g.pruneLocked(now)
		}
		if len(g.entries) >= g.maxEntries {
			// Tracker full even after pruning: fail closed.
			return false
		}
		entry = &graceEntry{}
		g.entries[identifier] = entry
	}

	entry.failures++
	entry.lastSeen = now
	return entry.failures <= g.allowance
}

// Clear forgets the identifier's outage counter. Called after any
// successful store or fallback check.
func (g *GraceTracker) Clear(identifier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, identifier)
}

// pruneLocked drops entries not touched within graceEntryTTL.
func (g *GraceTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-graceEntryTTL)
	for id, entry := range g.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(g.entries, id)
		}
	}
}
