package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/tombolo/tombolo/internal/domain"
)

// Queue key layout.
const (
	jobKeyPrefix   = "jobqueue:job:"
	queueKeyPrefix = "jobqueue:"
	dlqKey         = "jobqueue:dlq"
)

// QueueConfig contains queue retention and retry configuration.
type QueueConfig struct {
	PendingTTL         time.Duration
	CompletedTTL       time.Duration
	DLQRetention       time.Duration
	DefaultMaxAttempts int
}

// DefaultQueueConfig returns the standard retention windows: 24h for
// live jobs, 1h for completed jobs, 7d for dead letter entries.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		PendingTTL:         24 * time.Hour,
		CompletedTTL:       time.Hour,
		DLQRetention:       7 * 24 * time.Hour,
		DefaultMaxAttempts: 3,
	}
}

// Queue is a priority job queue over the shared store. Job records are
// the source of truth; the three priority lists carry IDs only, and a
// job ID lives in at most one list at a time.
type Queue struct {
	store  Store
	config QueueConfig

	now    func() time.Time
	jitter func() time.Duration
}

// NewQueue creates a queue.
func NewQueue(store Store, config QueueConfig) *Queue {
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = 3
	}
	return &Queue{
		store:  store,
		config: config,
		now:    time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
}

// EnqueueOptions tune a single enqueue call. Zero values fall back to
// normal priority and the configured default attempt budget.
type EnqueueOptions struct {
	MaxAttempts int
	Priority    domain.JobPriority
}

// Enqueue validates the payload, persists the job record, then pushes
// the ID onto the priority list. The write is two-step: if the list
// push fails after the record write succeeded, the orphaned record
// expires via TTL and the caller must treat the job as not enqueued.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, payload any, opts EnqueueOptions) (string, error) {
	if !jobType.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	priority := opts.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.config.DefaultMaxAttempts
	}

	raw, err := marshalPayload(jobType, payload)
	if err != nil {
		return "", err
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		Status:      domain.JobStatusPending,
		Priority:    priority,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   q.now().UTC(),
	}

	if err := q.saveJob(ctx, &job, q.config.PendingTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotEnqueued, err)
	}
	if err := q.store.LPush(ctx, queueKey(priority), job.ID); err != nil {
		// Record already written; it expires via PendingTTL.
		return "", fmt.Errorf("%w: %v", ErrNotEnqueued, err)
	}

	recordEnqueued(string(jobType), string(priority))
	return job.ID, nil
}

// Dequeue pops one job ID from the named priority list and marks the
// job processing. Returns nil when the list is empty or the record has
// already expired; an expired record is dropped silently.
func (q *Queue) Dequeue(ctx context.Context, priority domain.JobPriority) (*domain.Job, error) {
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}

	jobID, found, err := q.store.RPop(ctx, queueKey(priority))
	if err != nil {
		return nil, fmt.Errorf("pop %s queue: %w", priority, err)
	}
	if !found {
		return nil, nil
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		slog.Debug("dequeued job record missing, dropping", "job_id", jobID, "priority", priority)
		return nil, nil
	}

	now := q.now().UTC()
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.ProcessedAt = &now

	if err := q.saveJob(ctx, job, q.config.PendingTTL); err != nil {
		return nil, fmt.Errorf("persist processing state: %w", err)
	}
	return job, nil
}

// Complete marks a job completed and stores its result. Calling it
// again on an already-completed job is not an error; the result is
// last-write-wins. Completed records are kept briefly for status
// queries only.
func (q *Queue) Complete(ctx context.Context, jobID string, result any) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}

	now := q.now().UTC()
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &now
	job.Error = ""
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		job.Result = raw
	}

	if err := q.saveJob(ctx, job, q.config.CompletedTTL); err != nil {
		return fmt.Errorf("persist completed state: %w", err)
	}
	recordFinished(string(job.Type), "completed")
	return nil
}

// Fail records a failed attempt. While the attempt budget allows, the
// job goes back to pending and its ID is re-pushed onto the normal
// list; retries are not priority-preserving, a deliberate
// simplification. Once the budget is exhausted the job is snapshotted
// into the dead letter queue and the active record is deleted.
//
// The retry delay is nominal: it is recorded on the job for operators
// but not enforced by a timer, so a processing run may pick the job up
// sooner than the backoff suggests.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) (retrying bool, err error) {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, ErrJobNotFound
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if job.Attempts < job.MaxAttempts {
		delay := q.retryDelay(job.Attempts)
		next := q.now().UTC().Add(delay)

		job.Status = domain.JobStatusPending
		job.Error = msg
		job.NextAttemptAt = &next

		if err := q.saveJob(ctx, job, q.config.PendingTTL); err != nil {
			return false, fmt.Errorf("persist retry state: %w", err)
		}
		if err := q.store.LPush(ctx, queueKey(domain.PriorityNormal), job.ID); err != nil {
			return false, fmt.Errorf("requeue for retry: %w", err)
		}

		recordFinished(string(job.Type), "retried")
		slog.Info("job scheduled for retry",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"nominal_delay", delay,
			"error", msg,
		)
		return true, nil
	}

	now := q.now().UTC()
	job.Status = domain.JobStatusFailed
	job.Error = msg

	entry := domain.DeadLetterEntry{
		Job:          *job,
		FailedAt:     now,
		LastError:    msg,
		MovedToDlqAt: now,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := q.store.LPush(ctx, dlqKey, string(raw)); err != nil {
		return false, fmt.Errorf("append dlq entry: %w", err)
	}
	if err := q.store.Expire(ctx, dlqKey, q.config.DLQRetention); err != nil {
		slog.Warn("failed to refresh dlq retention", "error", err)
	}
	if err := q.store.Del(ctx, jobKey(job.ID)); err != nil {
		slog.Warn("failed to delete dead-lettered job record", "job_id", job.ID, "error", err)
	}

	recordFinished(string(job.Type), "dead_lettered")
	slog.Error("job moved to dead letter queue",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
		"error", msg,
	)
	return false, nil
}

// Status returns the current job record, or nil if it expired.
func (q *Queue) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.loadJob(ctx, jobID)
}

// QueueStats holds the current length of each priority list.
type QueueStats struct {
	High   int64 `json:"high"`
	Normal int64 `json:"normal"`
	Low    int64 `json:"low"`
}

// Stats returns current queue depths.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	var err error
	if stats.High, err = q.store.LLen(ctx, queueKey(domain.PriorityHigh)); err != nil {
		return nil, fmt.Errorf("high queue length: %w", err)
	}
	if stats.Normal, err = q.store.LLen(ctx, queueKey(domain.PriorityNormal)); err != nil {
		return nil, fmt.Errorf("normal queue length: %w", err)
	}
	if stats.Low, err = q.store.LLen(ctx, queueKey(domain.PriorityLow)); err != nil {
		return nil, fmt.Errorf("low queue length: %w", err)
	}
	return &stats, nil
}

// DLQStats holds the dead letter queue depth.
type DLQStats struct {
	Count int64 `json:"count"`
}

// DeadLetterStats returns the dead letter queue depth.
func (q *Queue) DeadLetterStats(ctx context.Context) (*DLQStats, error) {
	n, err := q.store.LLen(ctx, dlqKey)
	if err != nil {
		return nil, fmt.Errorf("dlq length: %w", err)
	}
	return &DLQStats{Count: n}, nil
}

// DeadLetterJobs returns up to limit entries, most recent first. The
// read is non-destructive.
func (q *Queue) DeadLetterJobs(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.store.LRange(ctx, dlqKey, 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}

	entries := make([]domain.DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.DeadLetterEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			slog.Warn("skipping malformed dlq entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// retryDelay computes exponential backoff with up to one second of
// jitter: 2^attempts seconds, where attempts already includes the
// attempt that just failed, so the first retry is nominally 2s.
func (q *Queue) retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20
	}
	return time.Duration(1<<uint(attempts))*time.Second + q.jitter()
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, found, err := q.store.Get(ctx, jobKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *domain.Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return q.store.SetEX(ctx, jobKey(job.ID), string(raw), ttl)
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func queueKey(priority domain.JobPriority) string {
	return queueKeyPrefix + string(priority)
}
