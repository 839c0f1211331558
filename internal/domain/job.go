package domain

import (
	"encoding/json"
	"time"
)

// JobType identifies the handler for a deferred job. The set is closed:
// the processor rejects any type not listed here.
type JobType string

// Job types.
const (
	JobTypePaymentWebhook JobType = "payment.webhook"
	JobTypeNotifyEmail    JobType = "notify.email"
	JobTypeExportSales    JobType = "export.sales"
)

// IsValid checks if the job type is a known handler tag.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypePaymentWebhook, JobTypeNotifyEmail, JobTypeExportSales:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job statuses.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobPriority selects the queue list a job is pushed onto.
type JobPriority string

// Job priorities, drained high to low within one processing run.
const (
	PriorityHigh   JobPriority = "high"
	PriorityNormal JobPriority = "normal"
	PriorityLow    JobPriority = "low"
)

// IsValid checks if the priority is one of the three queues.
func (p JobPriority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Job is a unit of deferred work. The record is the source of truth;
// the priority lists hold job IDs only.
type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        JobStatus       `json:"status"`
	Priority      JobPriority     `json:"priority"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// DeadLetterEntry is a snapshot of a job that exhausted its attempt
// budget. Entries are never mutated and expire after the DLQ retention
// window.
type DeadLetterEntry struct {
	Job          Job       `json:"job"`
	FailedAt     time.Time `json:"failed_at"`
	LastError    string    `json:"last_error"`
	MovedToDlqAt time.Time `json:"moved_to_dlq_at"`
}
