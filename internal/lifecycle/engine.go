// Package lifecycle runs job attempts: it drives a job from pending through
// processing to completed or failed and decides whether a failure is retried.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/gateway"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/internal/retry"
	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/kiranshivaraju/mediagen/pkg/models"
)

var (
	ErrPredictionTimeout = errors.New("prediction timed out")
	ErrNoResultReference = errors.New("no result reference in output")

	errSuperseded = errors.New("attempt superseded")
)

const maxErrorMessageBytes = 2000

// JobStore is the part of the job store the engine writes through.
type JobStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID, attempt int) error
	SetPredictionID(ctx context.Context, id uuid.UUID, attempt int, predictionID string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, attempt int, mediaPath string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, errMsg string) (int, error)
}

// MediaResolver turns a result reference into a stored media path.
type MediaResolver interface {
	Resolve(ctx context.Context, jobID uuid.UUID, ref string) (string, error)
}

// Options tune the wait for a remote prediction.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Engine executes job attempts.
type Engine struct {
	store    JobStore
	gateway  gateway.Gateway
	resolver MediaResolver
	policy   retry.Policy
	opts     Options
}

// NewEngine creates a new Engine.
func NewEngine(st JobStore, gw gateway.Gateway, resolver MediaResolver, policy retry.Policy, opts Options) *Engine {
	return &Engine{
		store:    st,
		gateway:  gw,
		resolver: resolver,
		policy:   policy,
		opts:     opts,
	}
}

// Execute runs one attempt of the task's job and reports what happened.
// It never panics.
func (e *Engine) Execute(ctx context.Context, task queue.Task) (out Outcome) {
	log := slog.With("job_id", task.JobID, "attempt", task.Attempt)

	claimed := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job attempt", "error", r, "claimed", claimed)
			cause := fmt.Errorf("internal error: %v", r)
			if !claimed {
				// Nothing was recorded for this attempt; deliver it again later.
				out = Outcome{Kind: Deferred, Delay: e.policy.Unit, Err: cause}
				return
			}
			out = e.fail(ctx, log, task, cause)
		}
	}()

	// The first attempt always runs; later ones only while retries remain.
	if task.Attempt > 0 && e.policy.Exhausted(task.Attempt) {
		log.Warn("dropping task for exhausted job")
		return Outcome{Kind: Superseded}
	}

	if err := e.store.MarkProcessing(ctx, task.JobID, task.Attempt); err != nil {
		return e.storeFailure(ctx, log, "mark processing", err)
	}
	claimed = true
	log.Info("job processing", "model", task.Model)

	mediaPath, err := e.run(ctx, log, task)
	if err != nil {
		return e.fail(ctx, log, task, err)
	}

	if err := e.store.MarkCompleted(ctx, task.JobID, task.Attempt, mediaPath); err != nil {
		return e.storeFailure(ctx, log, "mark completed", err)
	}
	log.Info("job completed", "media_path", mediaPath)
	return Outcome{Kind: Completed, MediaPath: mediaPath}
}

// run performs the remote part of the attempt and returns the media path.
func (e *Engine) run(ctx context.Context, log *slog.Logger, task queue.Task) (string, error) {
	pred, err := e.gateway.CreatePrediction(ctx, task.Model, task.Input)
	if err != nil {
		return "", fmt.Errorf("start prediction: %w", err)
	}

	if err := e.store.SetPredictionID(ctx, task.JobID, task.Attempt, pred.ID); err != nil {
		if isStale(err) {
			return "", errSuperseded
		}
		return "", fmt.Errorf("record prediction id: %w", err)
	}
	log.Info("prediction started", "prediction_id", pred.ID)

	final, err := e.wait(ctx, log, pred)
	if err != nil {
		return "", err
	}

	switch final.Status {
	case models.PredictionSucceeded:
		ref, ok := final.ResultReference()
		if !ok {
			return "", ErrNoResultReference
		}
		path, err := e.resolver.Resolve(ctx, task.JobID, ref)
		if err != nil {
			return "", fmt.Errorf("resolve media: %w", err)
		}
		return path, nil
	case models.PredictionFailed:
		if final.Error != "" {
			return "", fmt.Errorf("prediction failed: %s", final.Error)
		}
		return "", errors.New("prediction failed")
	case models.PredictionCanceled:
		return "", errors.New("prediction canceled")
	}
	return "", fmt.Errorf("unexpected prediction status %q", final.Status)
}

// wait polls the prediction until it reaches a terminal status or the
// configured timeout elapses.
func (e *Engine) wait(ctx context.Context, log *slog.Logger, pred *models.Prediction) (*models.Prediction, error) {
	if pred.Status.Terminal() {
		return pred, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.cancelRemote(ctx, log, pred.ID)
			return nil, fmt.Errorf("%w: prediction %s after %s", ErrPredictionTimeout, pred.ID, e.opts.Timeout)
		case <-ticker.C:
		}

		current, err := e.gateway.GetPrediction(waitCtx, pred.ID)
		switch {
		case err == nil:
			if current.Status.Terminal() {
				return current, nil
			}
			log.Debug("prediction pending", "prediction_id", pred.ID, "status", current.Status)
		case errors.Is(err, gateway.ErrRejected):
			return nil, fmt.Errorf("poll prediction: %w", err)
		default:
			// Transient; keep polling until the deadline.
			log.Warn("poll prediction failed", "prediction_id", pred.ID, "error", err)
		}
	}
}

func (e *Engine) cancelRemote(ctx context.Context, log *slog.Logger, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.gateway.CancelPrediction(cctx, id); err != nil {
		log.Warn("cancel prediction failed", "prediction_id", id, "error", err)
	}
}

// fail records a failed attempt and asks the retry policy what comes next.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, task queue.Task, cause error) Outcome {
	if errors.Is(cause, errSuperseded) {
		log.Info("attempt superseded by another delivery")
		return Outcome{Kind: Superseded}
	}
	if ctx.Err() != nil {
		log.Warn("attempt interrupted", "error", cause)
		return Outcome{Kind: Interrupted, Err: cause}
	}

	msg := truncateString(cause.Error(), maxErrorMessageBytes)
	retryCount, err := e.store.MarkFailed(ctx, task.JobID, task.Attempt, msg)
	if err != nil {
		out := e.storeFailure(ctx, log, "mark failed", err)
		if out.Err == nil {
			out.Err = cause
		}
		return out
	}

	delay, ok := e.policy.Next(retryCount)
	if !ok {
		log.Error("job failed permanently", "retry_count", retryCount, "error", msg)
		return Outcome{Kind: FailedTerminal, RetryCount: retryCount, Err: cause}
	}
	log.Warn("job attempt failed, retry scheduled",
		"retry_count", retryCount, "delay", delay.String(), "error", msg)
	return Outcome{Kind: RetryScheduled, Delay: delay, RetryCount: retryCount, Err: cause}
}

// storeFailure maps a rejected or failed lifecycle write to an outcome.
func (e *Engine) storeFailure(ctx context.Context, log *slog.Logger, op string, err error) Outcome {
	if isStale(err) {
		log.Info("attempt superseded", "op", op, "reason", err)
		return Outcome{Kind: Superseded}
	}
	if ctx.Err() != nil {
		return Outcome{Kind: Interrupted, Err: err}
	}
	log.Error("job store write failed", "op", op, "error", err)
	return Outcome{Kind: Deferred, Delay: e.policy.Unit, Err: err}
}

func isStale(err error) bool {
	return errors.Is(err, store.ErrStaleAttempt) || errors.Is(err, store.ErrNotFound)
}

func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
