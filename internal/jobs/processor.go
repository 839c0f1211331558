package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombolo/tombolo/internal/domain"
)

// Executor runs one job attempt. Executors must be idempotent: the
// queue is at-least-once and a job can be redelivered after a crash
// between dequeue and complete/fail. The returned result is stored on
// the completed job record.
type Executor interface {
	Execute(ctx context.Context, payload any) (result any, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload any) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, payload any) (any, error) {
	return f(ctx, payload)
}

// RunnerConfig bounds one processing pass.
type RunnerConfig struct {
	MaxJobsPerRun int
	MaxRunTime    time.Duration
}

// DefaultRunnerConfig returns the standard per-run budget.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxJobsPerRun: 50,
		MaxRunTime:    25 * time.Second,
	}
}

// RunStats summarizes one processing pass.
type RunStats struct {
	Processed    int `json:"processed"`
	Completed    int `json:"completed"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// Runner drains the priority queues: high fully before normal, normal
// fully before low, until the queues are empty or a per-run budget is
// hit. Executors are registered per job type before the first run.
type Runner struct {
	queue     *Queue
	config    RunnerConfig
	executors map[domain.JobType]Executor
}

// NewRunner creates a runner with no executors registered.
func NewRunner(queue *Queue, config RunnerConfig) *Runner {
	if config.MaxJobsPerRun <= 0 {
		config.MaxJobsPerRun = DefaultRunnerConfig().MaxJobsPerRun
	}
	if config.MaxRunTime <= 0 {
		config.MaxRunTime = DefaultRunnerConfig().MaxRunTime
	}
	return &Runner{
		queue:     queue,
		config:    config,
		executors: make(map[domain.JobType]Executor),
	}
}

// Register binds an executor to a job type, replacing any previous one.
func (r *Runner) Register(jobType domain.JobType, executor Executor) {
	r.executors[jobType] = executor
}

// Run performs one processing pass.
func (r *Runner) Run(ctx context.Context) (*RunStats, error) {
	deadline := time.Now().Add(r.config.MaxRunTime)
	stats := &RunStats{}

	for _, priority := range []domain.JobPriority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		for {
			if stats.Processed >= r.config.MaxJobsPerRun {
				return stats, nil
			}
			if time.Now().After(deadline) {
				return stats, nil
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}

			job, err := r.queue.Dequeue(ctx, priority)
			if err != nil {
				return stats, fmt.Errorf("dequeue %s: %w", priority, err)
			}
			if job == nil {
				break
			}

			stats.Processed++
			r.process(ctx, job, stats)
		}
	}

	return stats, nil
}

func (r *Runner) process(ctx context.Context, job *domain.Job, stats *RunStats) {
	start := time.Now()
	outcome, err := r.execute(ctx, job)
	recordDuration(string(job.Type), time.Since(start))

	if err == nil {
		if completeErr := r.queue.Complete(ctx, job.ID, outcome); completeErr != nil {
			slog.Error("failed to mark job completed", "job_id", job.ID, "error", completeErr)
			return
		}
		stats.Completed++
		return
	}

	retrying, failErr := r.queue.Fail(ctx, job.ID, err)
	if failErr != nil {
		slog.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		return
	}
	if retrying {
		stats.Retried++
	} else {
		stats.DeadLettered++
	}
}

func (r *Runner) execute(ctx context.Context, job *domain.Job) (any, error) {
	executor, ok := r.executors[job.Type]
	if !ok {
		// Unknown types consume an attempt rather than retrying forever.
		return nil, fmt.Errorf("%w: no executor for %q", ErrUnknownJobType, job.Type)
	}

	payload, err := decodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", job.ID, err)
	}

	return executor.Execute(ctx, payload)
}

// WorkerConfig contains worker loop configuration.
type WorkerConfig struct {
	PollInterval time.Duration
}

// Worker periodically invokes the runner. It owns no job state; each
// pass is a self-contained set of request/response cycles against the
// shared store, so several workers can run concurrently across
// processes.
type Worker struct {
	config WorkerConfig
	runner *Runner
	queue  *Queue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker around a runner.
func NewWorker(config WorkerConfig, runner *Runner, queue *Queue) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Worker{
		config: config,
		runner: runner,
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting job worker", "poll_interval", w.config.PollInterval)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker, waiting for an in-flight pass.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("job worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			stats, err := w.runner.Run(ctx)
			if err != nil {
				slog.Error("processing pass failed", "error", err)
				continue
			}
			if stats.Processed > 0 {
				slog.Info("processing pass finished",
					"processed", stats.Processed,
					"completed", stats.Completed,
					"retried", stats.Retried,
					"dead_lettered", stats.DeadLettered,
				)
			}
			w.reportDepths(ctx)
		}
	}
}

func (w *Worker) reportDepths(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		slog.Debug("failed to read queue stats", "error", err)
		return
	}
	dlq, err := w.queue.DeadLetterStats(ctx)
	if err != nil {
		slog.Debug("failed to read dlq stats", "error", err)
		return
	}
	RecordQueueDepths(stats, dlq)
}
