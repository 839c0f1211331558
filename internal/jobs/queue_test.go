package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombolo/tombolo/internal/domain"
)

// fakeStore is an in-memory Store. TTLs are recorded but not enforced;
// expiry is simulated by deleting keys directly.
type fakeStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	lists  map[string][]string

	lpushErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		lists:  make(map[string][]string),
	}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Del(_ context.Context, key string) error {
	delete(s.values, key)
	delete(s.ttls, key)
	return nil
}

func (s *fakeStore) LPush(_ context.Context, key, value string) error {
	if s.lpushErr != nil {
		return s.lpushErr
	}
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

func (s *fakeStore) RPop(_ context.Context, key string) (string, bool, error) {
	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	v := list[len(list)-1]
	s.lists[key] = list[:len(list)-1]
	return v, true, nil
}

func (s *fakeStore) LLen(_ context.Context, key string) (int64, error) {
	return int64(len(s.lists[key])), nil
}

func (s *fakeStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	list := s.lists[key]
	if start >= int64(len(list)) {
		return nil, nil
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	return list[start : stop+1], nil
}

func (s *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.ttls[key] = ttl
	return nil
}

func newTestQueue(store *fakeStore) *Queue {
	q := NewQueue(store, DefaultQueueConfig())
	q.jitter = func() time.Duration { return 0 }
	return q
}

func validWebhookPayload() PaymentWebhookPayload {
	return PaymentWebhookPayload{
		EventID:   "evt_1",
		EventType: "payment.succeeded",
		OrderID:   "ord_1",
		RaffleID:  "raf_1",
	}
}

func TestQueue_Enqueue(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Record persisted with pending TTL
	raw, ok := store.values[jobKey(id)]
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, store.ttls[jobKey(id)])

	var job domain.Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.PriorityHigh, job.Priority)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)

	// ID pushed onto the high list only
	assert.Equal(t, []string{id}, store.lists[queueKey(domain.PriorityHigh)])
	assert.Empty(t, store.lists[queueKey(domain.PriorityNormal)])
}

func TestQueue_Enqueue_DefaultsToNormalPriority(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, store.lists[queueKey(domain.PriorityNormal)])
}

func TestQueue_Enqueue_Validation(t *testing.T) {
	q := newTestQueue(newFakeStore())

	tests := []struct {
		name     string
		jobType  domain.JobType
		payload  any
		opts     EnqueueOptions
		expected error
	}{
		{
			name:     "unknown job type",
			jobType:  domain.JobType("bogus.type"),
			payload:  validWebhookPayload(),
			expected: ErrUnknownJobType,
		},
		{
			name:     "invalid priority",
			jobType:  domain.JobTypePaymentWebhook,
			payload:  validWebhookPayload(),
			opts:     EnqueueOptions{Priority: domain.JobPriority("urgent")},
			expected: ErrInvalidPriority,
		},
		{
			name:     "payload missing required field",
			jobType:  domain.JobTypePaymentWebhook,
			payload:  PaymentWebhookPayload{EventID: "evt_1"},
			expected: ErrInvalidPayload,
		},
		{
			name:     "payload of wrong shape",
			jobType:  domain.JobTypeNotifyEmail,
			payload:  NotifyEmailPayload{To: "not-an-email", Kind: "receipt", RaffleID: "raf_1"},
			expected: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tt.jobType, tt.payload, tt.opts)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestQueue_Enqueue_ListPushFailure(t *testing.T) {
	store := newFakeStore()
	store.lpushErr = errors.New("store down")
	q := newTestQueue(store)

	_, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	assert.ErrorIs(t, err, ErrNotEnqueued)

	// Orphaned record stays behind with its TTL; no list was touched.
	assert.Len(t, store.values, 1)
	assert.Empty(t, store.lists)
}

func TestQueue_Dequeue(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), domain.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ProcessedAt)
	assert.Empty(t, store.lists[queueKey(domain.PriorityNormal)])
}

func TestQueue_Dequeue_EmptyQueue(t *testing.T) {
	q := newTestQueue(newFakeStore())

	job, err := q.Dequeue(context.Background(), domain.PriorityHigh)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_Dequeue_ExpiredRecordDropped(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	require.NoError(t, err)

	// Simulate TTL expiry of the record while the ID is still queued
	delete(store.values, jobKey(id))

	job, err := q.Dequeue(context.Background(), domain.PriorityNormal)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_Complete(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), domain.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Complete(context.Background(), id, map[string]int{"status_code": 200}))

	job, err := q.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.JSONEq(t, `{"status_code":200}`, string(job.Result))

	// Completed records live on the shorter TTL
	assert.Equal(t, time.Hour, store.ttls[jobKey(id)])
}

func TestQueue_Complete_Idempotent(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, q.Complete(context.Background(), id, "first"))
	require.NoError(t, q.Complete(context.Background(), id, "second"))

	job, err := q.Status(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `"second"`, string(job.Result))
}

func TestQueue_Complete_NotFound(t *testing.T) {
	q := newTestQueue(newFakeStore())

	err := q.Complete(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_Fail_Retries(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypeNotifyEmail, NotifyEmailPayload{
		To: "buyer@example.com", Kind: "receipt", RaffleID: "raf_1",
	}, EnqueueOptions{Priority: domain.PriorityHigh})
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), domain.PriorityHigh)
	require.NoError(t, err)

	retrying, err := q.Fail(context.Background(), id, errors.New("smtp timeout"))
	require.NoError(t, err)
	assert.True(t, retrying)

	job, err := q.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "smtp timeout", job.Error)
	require.NotNil(t, job.NextAttemptAt)

	// Retries always land on the normal list, regardless of original priority
	assert.Equal(t, []string{id}, store.lists[queueKey(domain.PriorityNormal)])
	assert.Empty(t, store.lists[queueKey(domain.PriorityHigh)])
}

func TestQueue_Fail_MovesToDLQAfterBudget(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		job, err := q.Dequeue(context.Background(), domain.PriorityNormal)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)

		retrying, err := q.Fail(context.Background(), id, errors.New("endpoint 503"))
		require.NoError(t, err)
		assert.Equal(t, attempt < 2, retrying)
	}

	// Active record deleted, snapshot in the DLQ
	_, found, err := store.Get(context.Background(), jobKey(id))
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := q.DeadLetterJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Job.ID)
	assert.Equal(t, 2, entries[0].Job.Attempts)
	assert.Equal(t, "endpoint 503", entries[0].LastError)
	assert.Equal(t, domain.JobStatusFailed, entries[0].Job.Status)
	assert.Equal(t, 7*24*time.Hour, store.ttls[dlqKey])

	dlq, err := q.DeadLetterStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq.Count)
}

func TestQueue_RetryDelay(t *testing.T) {
	q := newTestQueue(newFakeStore())

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 1024 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, q.retryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestQueue_RetryDelay_Jitter(t *testing.T) {
	q := NewQueue(newFakeStore(), DefaultQueueConfig())

	for i := 0; i < 100; i++ {
		d := q.retryDelay(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestQueue_Stats(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	for _, priority := range []domain.JobPriority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityNormal, domain.PriorityLow} {
		_, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, validWebhookPayload(), EnqueueOptions{Priority: priority})
		require.NoError(t, err)
	}

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.High)
	assert.Equal(t, int64(2), stats.Normal)
	assert.Equal(t, int64(1), stats.Low)
}

func TestQueue_DeadLetterJobs_SkipsMalformedEntries(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	entry := domain.DeadLetterEntry{Job: domain.Job{ID: "job-1"}, LastError: "boom"}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	store.lists[dlqKey] = []string{string(raw), "not json"}

	entries, err := q.DeadLetterJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1", entries[0].Job.ID)
}
