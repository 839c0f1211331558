package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tombolo/tombolo/internal/domain"
)

var payloadValidator = validator.New()

// PaymentWebhookPayload carries a payment-processor event for deferred
// post-processing.
type PaymentWebhookPayload struct {
	EventID   string          `json:"event_id" validate:"required"`
	EventType string          `json:"event_type" validate:"required"`
	OrderID   string          `json:"order_id" validate:"required"`
	RaffleID  string          `json:"raffle_id" validate:"required"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// NotifyEmailPayload carries a buyer/organizer email to deliver.
type NotifyEmailPayload struct {
	To       string `json:"to" validate:"required,email"`
	Kind     string `json:"kind" validate:"required,oneof=receipt winner reminder"`
	RaffleID string `json:"raffle_id" validate:"required"`
	OrderID  string `json:"order_id,omitempty"`
}

// ExportSalesPayload requests a CSV export of sold tickets.
type ExportSalesPayload struct {
	RaffleID    string `json:"raffle_id" validate:"required"`
	RequestedBy string `json:"requested_by" validate:"required,email"`
}

// marshalPayload encodes a payload and checks it against the schema of
// its job type. Validation happens here, at the queue boundary, so
// executors never see free-form data.
func marshalPayload(jobType domain.JobType, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := decodePayload(jobType, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// decodePayload deserializes raw into the typed payload for jobType
// and validates it.
func decodePayload(jobType domain.JobType, raw json.RawMessage) (any, error) {
	var payload any
	switch jobType {
	case domain.JobTypePaymentWebhook:
		payload = &PaymentWebhookPayload{}
	case domain.JobTypeNotifyEmail:
		payload = &NotifyEmailPayload{}
	case domain.JobTypeExportSales:
		payload = &ExportSalesPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}
