// Package dispatch runs the worker side of the queue: executors that pull
// tasks and act on their outcomes, plus the loops that keep delayed and
// orphaned work moving.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/mediagen/internal/lifecycle"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Queue is the consumer side of the dispatch queue.
type Queue interface {
	Enqueue(ctx context.Context, task queue.Task) error
	Schedule(ctx context.Context, task queue.Task, delay time.Duration) error
	Dequeue(ctx context.Context, block time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	PromoteDue(ctx context.Context, now time.Time, batch int) (int, error)
	RequeueInflight(ctx context.Context) (int, error)
}

// Executor runs one attempt of a task.
type Executor interface {
	Execute(ctx context.Context, task queue.Task) lifecycle.Outcome
}

// PendingClaimer hands out jobs that were created but never picked up. A job
// is returned at most once per staleness window.
type PendingClaimer interface {
	ClaimStalePending(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Job, error)
}

// Config sizes and paces the pool.
type Config struct {
	Concurrency       int
	PromoteInterval   time.Duration
	ReconcileInterval time.Duration
	PendingStaleAfter time.Duration
	DequeueBlock      time.Duration
	Batch             int
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.PendingStaleAfter <= 0 {
		c.PendingStaleAfter = 5 * time.Minute
	}
	if c.DequeueBlock <= 0 {
		c.DequeueBlock = 2 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	return c
}

const (
	followUpTimeout  = 10 * time.Second
	scheduleAttempts = 3
)

// errorBackoff is the pause after a queue error before trying again.
var errorBackoff = time.Second

// Pool runs executors and maintenance loops until its context is cancelled.
type Pool struct {
	queue    Queue
	executor Executor
	pending  PendingClaimer
	cfg      Config
}

// NewPool creates a new Pool.
func NewPool(q Queue, exec Executor, pending PendingClaimer, cfg Config) *Pool {
	return &Pool{queue: q, executor: exec, pending: pending, cfg: cfg.withDefaults()}
}

// Run blocks until ctx is cancelled. Tasks left in flight by a previous run
// of this worker are requeued first.
func (p *Pool) Run(ctx context.Context) error {
	n, err := p.queue.RequeueInflight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("requeued in-flight tasks from previous run", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.consume(gctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.every(gctx, p.cfg.PromoteInterval, p.promote)
		return nil
	})
	g.Go(func() error {
		p.every(gctx, p.cfg.ReconcileInterval, p.reconcile)
		return nil
	})

	slog.Info("worker pool started", "concurrency", p.cfg.Concurrency)
	err = g.Wait()
	slog.Info("worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, id int) {
	for ctx.Err() == nil {
		d, err := p.queue.Dequeue(ctx, p.cfg.DequeueBlock)
		switch {
		case err == nil:
			p.Handle(ctx, d)
		case errors.Is(err, queue.ErrEmpty):
		case errors.Is(err, queue.ErrMalformedTask):
			slog.Error("dropped malformed task", "executor", id, "error", err)
		case ctx.Err() != nil:
			return
		default:
			slog.Error("dequeue failed", "executor", id, "error", err)
			sleep(ctx, errorBackoff)
		}
	}
}

// Handle executes one delivery and applies its outcome to the queue.
func (p *Pool) Handle(ctx context.Context, d *queue.Delivery) {
	out := p.executor.Execute(ctx, d.Task)
	log := slog.With("job_id", d.Task.JobID, "attempt", d.Task.Attempt, "outcome", out.Kind.String())

	// Follow-up writes must land even if shutdown started mid-attempt.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	switch out.Kind {
	case lifecycle.Interrupted:
		// Left in flight; requeued when this worker restarts.
		log.Info("task interrupted")
		return
	case lifecycle.RetryScheduled:
		next := d.Task
		next.Attempt = out.RetryCount
		if err := p.schedule(fctx, next, out.Delay); err != nil {
			log.Error("could not schedule retry", "error", err)
			return
		}
	case lifecycle.Deferred:
		if err := p.schedule(fctx, d.Task, out.Delay); err != nil {
			log.Error("could not defer task", "error", err)
			return
		}
	case lifecycle.Completed, lifecycle.FailedTerminal, lifecycle.Superseded:
	}

	if err := p.queue.Ack(fctx, d); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func (p *Pool) schedule(ctx context.Context, task queue.Task, delay time.Duration) error {
	var err error
	for i := 0; i < scheduleAttempts; i++ {
		if err = p.queue.Schedule(ctx, task, delay); err == nil {
			return nil
		}
		if !sleep(ctx, errorBackoff) {
			break
		}
	}
	return err
}

func (p *Pool) promote(ctx context.Context) {
	n, err := p.queue.PromoteDue(ctx, time.Now(), p.cfg.Batch)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("promote due tasks failed", "error", err)
		}
		return
	}
	if n > 0 {
		slog.Debug("promoted due tasks", "count", n)
	}
}

// reconcile re-enqueues jobs that stayed pending too long, which happens when
// the API stored a job but crashed or lost Redis before enqueueing it. A job
// still waiting behind a backlog gets at most one extra copy per
// PendingStaleAfter.
func (p *Pool) reconcile(ctx context.Context) {
	jobs, err := p.pending.ClaimStalePending(ctx, time.Now().Add(-p.cfg.PendingStaleAfter), p.cfg.Batch)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("claim stale pending jobs failed", "error", err)
		}
		return
	}
	requeued := 0
	for _, job := range jobs {
		if err := p.queue.Enqueue(ctx, queue.NewTask(job)); err != nil {
			slog.Error("requeue stale pending job failed", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		slog.Warn("requeued stale pending jobs", "count", requeued)
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
