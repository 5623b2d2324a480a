// Package scheduler drives recurring sync and briefing jobs: a planner
// turns schedules into queue entries with not-before timestamps, and a
// worker pool executes leased jobs with bounded retry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"dailybrief/internal/domain"
	"dailybrief/internal/ports"
)

// Handler executes one job instance. A returned error wrapping
// ErrSourceContractViolation is fatal; everything else is retryable.
type Handler func(ctx context.Context, job domain.Job) error

// RetryPolicy bounds the exponential backoff between attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// Delay computes the backoff before redelivering a job that has already
// run attempt+1 times.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0

	delay := bo.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// Pool runs a fixed set of workers against the shared queue. Each job
// executes single-threaded on one worker; parallelism is across jobs.
type Pool struct {
	queue    ports.JobQueue
	handlers map[domain.JobKind]Handler
	policy   RetryPolicy
	workers  int
	consumer string
	logger   *slog.Logger
}

// NewPool builds a worker pool; consumer names derive from the given base.
func NewPool(queue ports.JobQueue, policy RetryPolicy, workers int, consumer string, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:    queue,
		handlers: map[domain.JobKind]Handler{},
		policy:   policy,
		workers:  workers,
		consumer: consumer,
		logger:   logger,
	}
}

// Register binds a handler to a job kind.
func (p *Pool) Register(kind domain.JobKind, handler Handler) {
	p.handlers[kind] = handler
}

// Run blocks until ctx is cancelled, executing jobs as they become due.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		name := fmt.Sprintf("%s-%d", p.consumer, i)
		g.Go(func() error {
			return p.runWorker(ctx, name)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, name string) error {
	logger := p.logger.With("worker", name)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lease, err := p.queue.Dequeue(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("dequeue failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if lease == nil {
			continue
		}

		p.execute(ctx, logger, lease)
	}
}

// execute runs the state machine for one leased job:
// Scheduled -> Running -> Succeeded | Failed(retryable) | Failed(fatal).
func (p *Pool) execute(ctx context.Context, logger *slog.Logger, lease *domain.Lease) {
	job := lease.Job
	logger = logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)

	handler, ok := p.handlers[job.Kind]
	if !ok {
		logger.Error("job failed", "status", domain.JobFailedFatal, "error", "no handler registered")
		p.finish(ctx, logger, lease)
		return
	}

	logger.Debug("job started", "status", domain.JobRunning)
	err := handler(ctx, job)

	switch {
	case err == nil:
		logger.Info("job succeeded", "status", domain.JobSucceeded)
		p.finish(ctx, logger, lease)

	case IsFatal(err):
		logger.Error("job failed", "status", domain.JobFailedFatal, "error", err)
		p.finish(ctx, logger, lease)

	case job.Attempt+1 >= p.policy.MaxAttempts:
		logger.Error("job failed, retries exhausted",
			"status", domain.JobFailedFatal,
			"max_attempts", p.policy.MaxAttempts,
			"error", err)
		p.finish(ctx, logger, lease)

	default:
		delay := p.policy.Delay(job.Attempt)
		logger.Warn("job failed, will retry",
			"status", domain.JobFailedRetry,
			"retry_after", delay,
			"error", err)
		if nackErr := p.queue.Nack(ctx, lease, delay); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
	}
}

func (p *Pool) finish(ctx context.Context, logger *slog.Logger, lease *domain.Lease) {
	if err := p.queue.Ack(ctx, lease); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

// IsFatal reports whether a job error must never be retried.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrSourceContractViolation)
}
