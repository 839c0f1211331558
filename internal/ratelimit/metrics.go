package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tiers of the fallback chain, recorded so an outage is visible in the
// decision mix.
const (
	tierPrimary  = "primary"
	tierFallback = "fallback"
	tierGrace    = "grace"
)

var rateLimitDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tombolo",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by class, serving tier, and outcome",
	},
	[]string{"class", "tier", "outcome"},
)

func recordDecision(class, tier string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	rateLimitDecisions.WithLabelValues(class, tier, outcome).Inc()
}
