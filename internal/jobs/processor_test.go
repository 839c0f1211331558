package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombolo/tombolo/internal/domain"
)

type recordingExecutor struct {
	seen []string
	err  error
}

func (e *recordingExecutor) Execute(_ context.Context, payload any) (any, error) {
	p, ok := payload.(*PaymentWebhookPayload)
	if ok {
		e.seen = append(e.seen, p.EventID)
	}
	if e.err != nil {
		return nil, e.err
	}
	return map[string]string{"event_id": p.EventID}, nil
}

func enqueueWebhook(t *testing.T, q *Queue, eventID string, priority domain.JobPriority) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), domain.JobTypePaymentWebhook, PaymentWebhookPayload{
		EventID:   eventID,
		EventType: "payment.succeeded",
		OrderID:   "ord_1",
		RaffleID:  "raf_1",
	}, EnqueueOptions{Priority: priority})
	require.NoError(t, err)
	return id
}

func TestRunner_DrainsByPriority(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	enqueueWebhook(t, q, "low-1", domain.PriorityLow)
	enqueueWebhook(t, q, "normal-1", domain.PriorityNormal)
	enqueueWebhook(t, q, "high-1", domain.PriorityHigh)
	enqueueWebhook(t, q, "high-2", domain.PriorityHigh)

	executor := &recordingExecutor{}
	runner := NewRunner(q, DefaultRunnerConfig())
	runner.Register(domain.JobTypePaymentWebhook, executor)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 4, stats.Completed)

	// High drains fully before normal, normal before low. Within one
	// priority the queue is FIFO.
	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "low-1"}, executor.seen)
}

func TestRunner_StopsAtJobBudget(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	for i := 0; i < 5; i++ {
		enqueueWebhook(t, q, "evt", domain.PriorityNormal)
	}

	runner := NewRunner(q, RunnerConfig{MaxJobsPerRun: 3, MaxRunTime: time.Minute})
	runner.Register(domain.JobTypePaymentWebhook, &recordingExecutor{})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)

	remaining, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining.Normal)
}

func TestRunner_FailedJobIsRetried(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	enqueueWebhook(t, q, "evt", domain.PriorityHigh)

	runner := NewRunner(q, DefaultRunnerConfig())
	runner.Register(domain.JobTypePaymentWebhook, &recordingExecutor{err: errors.New("endpoint down")})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	// First pass: the high attempt fails and the retry lands on the
	// normal list, which the same pass then drains too. Two attempts
	// consumed, third attempt dead-letters.
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Retried)
	assert.Equal(t, 1, stats.DeadLettered)

	dlq, err := q.DeadLetterStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq.Count)
}

func TestRunner_UnknownTypeConsumesAttempt(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	id := enqueueWebhook(t, q, "evt", domain.PriorityNormal)

	// No executor registered for the type
	runner := NewRunner(q, DefaultRunnerConfig())

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.DeadLettered)

	entries, err := q.DeadLetterJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Job.ID)
	assert.Contains(t, entries[0].LastError, "no executor")
}

func TestRunner_ContextCancellation(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	enqueueWebhook(t, q, "evt", domain.PriorityNormal)

	runner := NewRunner(q, DefaultRunnerConfig())
	runner.Register(domain.JobTypePaymentWebhook, &recordingExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Processed)
}

func TestWorker_StartStop(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	runner := NewRunner(q, DefaultRunnerConfig())
	worker := NewWorker(WorkerConfig{PollInterval: 10 * time.Millisecond}, runner, q)

	worker.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	worker.Stop()
}

func TestWorker_ReportsQueueDepths(t *testing.T) {
	store := newFakeStore()
	q := newTestQueue(store)

	enqueueWebhook(t, q, "evt", domain.PriorityNormal)

	runner := NewRunner(q, DefaultRunnerConfig())
	runner.Register(domain.JobTypePaymentWebhook, &recordingExecutor{})
	worker := NewWorker(WorkerConfig{PollInterval: 10 * time.Millisecond}, runner, q)

	// The worker is the sole owner of the depth gauges: it refreshes
	// them after every poll tick, with no separate metrics loop.
	worker.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	worker.Stop()

	assert.Equal(t, float64(0), promtestutil.ToFloat64(queueDepth.WithLabelValues("normal")))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(dlqDepth))
}
