package fanout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a unit of deferred delivery work.
type Job func(ctx context.Context)

// Queue is a bounded job queue drained by a fixed pool of workers. Enqueue
// never blocks; a full queue drops the job.
type Queue struct {
	jobs       chan Job
	workers    int
	jobTimeout time.Duration
	dropped    atomic.Int64
	logger     *slog.Logger
}

// NewQueue creates a Queue holding up to size pending jobs.
func NewQueue(size, workers int, jobTimeout time.Duration, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	return &Queue{
		jobs:       make(chan Job, size),
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger.With(slog.String("component", "fanout_queue")),
	}
}

// Enqueue adds a job. It reports false when the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns how many jobs were rejected because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still queued
// at that point are drained before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("delivery workers starting", slog.Int("workers", q.workers))

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.exec(context.WithoutCancel(ctx), job)
				}
			}
		}()
	}
	wg.Wait()

	drained := 0
	for {
		select {
		case job := <-q.jobs:
			q.exec(context.WithoutCancel(ctx), job)
			drained++
		default:
			q.logger.Info("delivery workers stopped", slog.Int("drained", drained))
			return ctx.Err()
		}
	}
}

func (q *Queue) exec(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, q.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("delivery job panicked", slog.Any("panic", r))
		}
	}()
	job(ctx)
}
