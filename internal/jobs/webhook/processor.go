// Package webhook executes payment.webhook jobs: deferred
// post-processing of payment processor events against the internal
// fulfillment endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombolo/tombolo/internal/jobs"
	"golang.org/x/time/rate"
)

// Config holds webhook post-processing configuration.
type Config struct {
	FulfillmentURL string
	RequestTimeout time.Duration
	// RateLimit paces outbound fulfillment calls per second; Burst is
	// the allowed burst size.
	RateLimit float64
	Burst     int
}

// Processor forwards payment events to the fulfillment endpoint,
// paced by a token bucket so a backlog drain cannot stampede it.
// It implements jobs.Executor for the payment.webhook job type and is
// idempotent as long as the fulfillment endpoint deduplicates on
// event_id, which the queue's at-least-once delivery requires anyway.
type Processor struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewProcessor creates a processor.
func NewProcessor(config Config) (*Processor, error) {
	if config.FulfillmentURL == "" {
		return nil, errors.New("webhook processor: fulfillment URL is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 20
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	slog.Info("webhook processor configured",
		"fulfillment_url", config.FulfillmentURL,
		"rate_limit", config.RateLimit,
		"burst", config.Burst,
	)

	return &Processor{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}, nil
}

// Result is stored on the completed job record.
type Result struct {
	EventID    string `json:"event_id"`
	StatusCode int    `json:"status_code"`
}

// Execute forwards one payment event.
func (p *Processor) Execute(ctx context.Context, payload any) (any, error) {
	event, ok := payload.(*jobs.PaymentWebhookPayload)
	if !ok {
		return nil, fmt.Errorf("webhook processor: unexpected payload type %T", payload)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode fulfillment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.FulfillmentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build fulfillment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.EventID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call fulfillment endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fulfillment endpoint returned %d for event %s", resp.StatusCode, event.EventID)
	}

	slog.Debug("payment event forwarded",
		"event_id", event.EventID,
		"order_id", event.OrderID,
		"status", resp.StatusCode,
	)

	return Result{EventID: event.EventID, StatusCode: resp.StatusCode}, nil
}
