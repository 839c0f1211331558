package ratelimit

import "time"

// Preset limit classes. The ratios of window to max differ by endpoint
// class: ticket reservation attempts are throttled hard, checkout is
// throttled per hour, webhook ingestion allows short bursts.
var (
	ReservationAttempts = Config{
		Name:        "reserve",
		Window:      time.Minute,
		MaxRequests: 10,
		KeyPrefix:   "ratelimit:reserve",
	}

	CheckoutSubmissions = Config{
		Name:        "checkout",
		Window:      time.Hour,
		MaxRequests: 10,
		KeyPrefix:   "ratelimit:checkout",
	}

	GeneralAPI = Config{
		Name:        "api",
		Window:      time.Minute,
		MaxRequests: 100,
		KeyPrefix:   "ratelimit:api",
	}

	WebhookIngestion = Config{
		Name:        "webhook",
		Window:      time.Second,
		MaxRequests: 100,
		KeyPrefix:   "ratelimit:webhook",
	}

	HealthProbes = Config{
		Name:        "health",
		Window:      time.Minute,
		MaxRequests: 60,
		KeyPrefix:   "ratelimit:health",
	}
)
