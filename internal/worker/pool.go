package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/intentbridge/relay/internal/metrics"
	"github.com/intentbridge/relay/internal/queue"
)

// JobQueue is the lease/ack/fail surface the pool consumes.
type JobQueue interface {
	Lease(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) (queue.Outcome, error)
}

// Archiver receives jobs that exhausted their retries.
type Archiver interface {
	Archive(ctx context.Context, job *queue.Job, cause string) error
}

// Handler processes one leased job. A nil return acknowledges the job;
// rejections the handler has already accounted for (unsupported events,
// relayer 4xx) must come back as nil. Any error triggers queue-level retry.
type Handler func(ctx context.Context, job *queue.Job) error

const defaultPollInterval = 500 * time.Millisecond

// Pool runs a fixed number of concurrent consumers, each independently
// leasing jobs to completion. Workers share no state beyond the queue's
// atomic primitives, so one job's failure never touches another's.
type Pool struct {
	queue   JobQueue
	handler Handler
	archive Archiver
	logger  *slog.Logger
	metrics *metrics.Metrics

	concurrency  int
	pollInterval time.Duration
}

// NewPool builds a pool of n workers over the queue.
func NewPool(q JobQueue, handler Handler, archive Archiver, n int, logger *slog.Logger, mtr *metrics.Metrics) *Pool {
	if n <= 0 {
		n = 5
	}
	return &Pool{
		queue:        q,
		handler:      handler,
		archive:      archive,
		logger:       logger,
		metrics:      mtr,
		concurrency:  n,
		pollInterval: defaultPollInterval,
	}
}

// Run blocks until ctx is cancelled and every worker has drained its
// in-flight job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("lease failed", "error", err)
			p.metrics.Errors()
			p.idle(ctx)
			continue
		}
		if job == nil {
			p.idle(ctx)
			continue
		}

		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, job *queue.Job) {
	err := p.handler(ctx, job)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			log.Error("ack failed", "job_id", job.ID, "error", ackErr)
			p.metrics.Errors()
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-job: leave the lease to expire and be redelivered.
		return
	}

	outcome, failErr := p.queue.Fail(ctx, job, err)
	if failErr != nil {
		log.Error("fail transition failed", "job_id", job.ID, "error", failErr)
		p.metrics.Errors()
		return
	}

	switch outcome {
	case queue.OutcomeRescheduled:
		log.Warn("job rescheduled",
			"job_id", job.ID,
			"attempt", job.Attempts,
			"error", err)
	case queue.OutcomeDeadLettered:
		log.Error("job dead-lettered",
			"job_id", job.ID,
			"attempts", job.Attempts,
			"error", err)
		p.metrics.JobsDeadLettered()
		if p.archive != nil {
			if archErr := p.archive.Archive(ctx, job, err.Error()); archErr != nil {
				log.Error("archive failed", "job_id", job.ID, "error", archErr)
				p.metrics.Errors()
			}
		}
	}
}

func (p *Pool) idle(ctx context.Context) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
