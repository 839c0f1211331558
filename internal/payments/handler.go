// Package payments provides the payment processor webhook ingestion
// endpoint. Business logic stays out of the request path: a verified
// event is enqueued as a high priority job and acknowledged
// immediately.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/tombolo/tombolo/internal/domain"
	"github.com/tombolo/tombolo/internal/jobs"
	"github.com/tombolo/tombolo/internal/pkg/ctxlog"
	"github.com/tombolo/tombolo/internal/pkg/httputil"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

const maxBodyBytes = 1 << 20

// Config holds webhook ingestion configuration.
type Config struct {
	SigningSecret string
}

// Handler handles payment webhook deliveries.
type Handler struct {
	config    Config
	queue     *jobs.Queue
	validator *validator.Validate
}

// NewHandler creates a payments webhook handler.
func NewHandler(config Config, queue *jobs.Queue) (*Handler, error) {
	if config.SigningSecret == "" {
		return nil, errors.New("payments: webhook signing secret is required")
	}
	return &Handler{
		config:    config,
		queue:     queue,
		validator: validator.New(),
	}, nil
}

// RegisterRoutes registers webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments", h.Receive)
}

type webhookEvent struct {
	EventID   string          `json:"event_id" validate:"required"`
	EventType string          `json:"event_type" validate:"required"`
	OrderID   string          `json:"order_id" validate:"required"`
	RaffleID  string          `json:"raffle_id" validate:"required"`
	Data      json.RawMessage `json:"data"`
}

// Receive handles POST /webhooks/payments. Delivery is at-least-once
// end to end: a 503 tells the processor to redeliver, and the deferred
// job's executor deduplicates on event_id.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if err := h.validator.Struct(event); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), domain.JobTypePaymentWebhook, jobs.PaymentWebhookPayload{
		EventID:   event.EventID,
		EventType: event.EventType,
		OrderID:   event.OrderID,
		RaffleID:  event.RaffleID,
		Body:      event.Data,
	}, jobs.EnqueueOptions{Priority: domain.PriorityHigh})
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to enqueue webhook job",
			"event_id", event.EventID,
			"error", err,
		)
		httputil.Error(w, http.StatusServiceUnavailable, "event not accepted, please redeliver")
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{
		"job_id":   jobID,
		"event_id": event.EventID,
	})
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.config.SigningSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
