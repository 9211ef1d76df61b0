package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mediagen/internal/gateway"
	gwmock "github.com/kiranshivaraju/mediagen/internal/gateway/mock"
	"github.com/kiranshivaraju/mediagen/internal/lifecycle"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/internal/retry"
	"github.com/kiranshivaraju/mediagen/internal/store"
	stmock "github.com/kiranshivaraju/mediagen/internal/store/mock"
	"github.com/kiranshivaraju/mediagen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultURL = "https://replicate.delivery/pbxt/out-0.png"

var testPolicy = retry.Policy{Base: 2, Unit: time.Minute, MaxRetries: 3}

var fastWait = lifecycle.Options{PollInterval: time.Millisecond, Timeout: 200 * time.Millisecond}

// passthrough keeps the result reference, like passthrough media mode.
type passthrough struct{}

func (passthrough) Resolve(_ context.Context, _ uuid.UUID, ref string) (string, error) {
	return ref, nil
}

// failingResolver always fails.
type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, uuid.UUID, string) (string, error) {
	return "", f.err
}

// seed stores a pending job and returns the task for its first attempt.
func seed(t *testing.T, st *stmock.MemoryStore) queue.Task {
	t.Helper()
	job := models.NewJob("a lighthouse at dusk", "stability-ai/sdxl", map[string]any{"width": 1024})
	require.NoError(t, st.CreateJob(context.Background(), job))
	return queue.NewTask(job)
}

func getJob(t *testing.T, st *stmock.MemoryStore, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func newEngine(st lifecycle.JobStore, gw gateway.Gateway, resolver lifecycle.MediaResolver) *lifecycle.Engine {
	return lifecycle.NewEngine(st, gw, resolver, testPolicy, fastWait)
}

// --- success path ---

func TestExecute_Success(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewSucceedingGateway([]any{resultURL}, 2)
	task := seed(t, st)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), task)

	assert.Equal(t, lifecycle.Completed, out.Kind)
	assert.Equal(t, resultURL, out.MediaPath)
	assert.NoError(t, out.Err)

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.MediaPath)
	assert.Equal(t, resultURL, *job.MediaPath)
	require.NotNil(t, job.ExternalPredictionID)
	assert.Equal(t, "pred-1", *job.ExternalPredictionID)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 3, gw.Gets())
}

func TestExecute_SendsPromptAndParameters(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewSucceedingGateway(resultURL, 0)
	var gotModel string
	var gotInput map[string]any
	gw.CreateFunc = func(_ context.Context, model string, input map[string]any) (*models.Prediction, error) {
		gotModel, gotInput = model, input
		return &models.Prediction{ID: "p", Status: models.PredictionStarting}, nil
	}
	task := seed(t, st)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), task)
	require.Equal(t, lifecycle.Completed, out.Kind)

	assert.Equal(t, "stability-ai/sdxl", gotModel)
	assert.Equal(t, "a lighthouse at dusk", gotInput["prompt"])
	assert.Equal(t, 1024, gotInput["width"])
}

func TestExecute_AlreadyTerminalOnCreate(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := &gwmock.MockGateway{
		CreateFunc: func(context.Context, string, map[string]any) (*models.Prediction, error) {
			return &models.Prediction{ID: "sync", Status: models.PredictionSucceeded, Output: resultURL}, nil
		},
	}
	task := seed(t, st)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Completed, out.Kind)
	assert.Zero(t, gw.Gets())
}

// --- failures ---

func TestExecute_FailureCases(t *testing.T) {
	tests := []struct {
		name     string
		gateway  *gwmock.MockGateway
		resolver lifecycle.MediaResolver
		wantMsg  string
		wantErr  error
	}{
		{
			name:     "gateway start failure",
			gateway:  gwmock.NewFailingGateway(fmt.Errorf("%w: status 502", gateway.ErrUnreachable)),
			resolver: passthrough{},
			wantMsg:  "start prediction",
			wantErr:  gateway.ErrUnreachable,
		},
		{
			name:     "remote failed",
			gateway:  gwmock.NewRemoteStatusGateway(models.PredictionFailed, "NSFW content detected"),
			resolver: passthrough{},
			wantMsg:  "prediction failed: NSFW content detected",
		},
		{
			name:     "remote failed without detail",
			gateway:  gwmock.NewRemoteStatusGateway(models.PredictionFailed, ""),
			resolver: passthrough{},
			wantMsg:  "prediction failed",
		},
		{
			name:     "remote canceled",
			gateway:  gwmock.NewRemoteStatusGateway(models.PredictionCanceled, ""),
			resolver: passthrough{},
			wantMsg:  "prediction canceled",
		},
		{
			name:     "malformed output",
			gateway:  gwmock.NewSucceedingGateway(map[string]any{"images": []any{resultURL}}, 0),
			resolver: passthrough{},
			wantMsg:  "no result reference in output",
			wantErr:  lifecycle.ErrNoResultReference,
		},
		{
			name:     "empty output list",
			gateway:  gwmock.NewSucceedingGateway([]any{}, 0),
			resolver: passthrough{},
			wantMsg:  "no result reference in output",
		},
		{
			name:     "resolver failure",
			gateway:  gwmock.NewSucceedingGateway(resultURL, 0),
			resolver: failingResolver{err: errors.New("disk full")},
			wantMsg:  "resolve media: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stmock.NewMemoryStore()
			task := seed(t, st)

			out := newEngine(st, tt.gateway, tt.resolver).Execute(context.Background(), task)

			assert.Equal(t, lifecycle.RetryScheduled, out.Kind)
			assert.Equal(t, 1, out.RetryCount)
			assert.Equal(t, 2*time.Minute, out.Delay)
			require.Error(t, out.Err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, out.Err, tt.wantErr)
			}

			job := getJob(t, st, task.JobID)
			assert.Equal(t, models.JobStatusFailed, job.Status)
			assert.Equal(t, 1, job.RetryCount)
			require.NotNil(t, job.ErrorMessage)
			assert.Contains(t, *job.ErrorMessage, tt.wantMsg)
		})
	}
}

func TestExecute_TimeoutCancelsRemotePrediction(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewStuckGateway()
	task := seed(t, st)

	engine := lifecycle.NewEngine(st, gw, passthrough{}, testPolicy,
		lifecycle.Options{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond})
	out := engine.Execute(context.Background(), task)

	assert.Equal(t, lifecycle.RetryScheduled, out.Kind)
	assert.ErrorIs(t, out.Err, lifecycle.ErrPredictionTimeout)
	assert.Equal(t, []string{"pred-1"}, gw.Canceled())

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "prediction timed out")
	require.NotNil(t, job.ExternalPredictionID, "correlation id must be kept for reconciliation")
}

func TestExecute_TransientPollErrorsTolerated(t *testing.T) {
	st := stmock.NewMemoryStore()
	var polls atomic.Int64
	gw := &gwmock.MockGateway{
		GetFunc: func(_ context.Context, id string) (*models.Prediction, error) {
			if polls.Add(1) <= 2 {
				return nil, fmt.Errorf("%w: connection reset", gateway.ErrUnreachable)
			}
			return &models.Prediction{ID: id, Status: models.PredictionSucceeded, Output: resultURL}, nil
		},
	}
	task := seed(t, st)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Completed, out.Kind)
}

func TestExecute_RejectedPollFailsAttempt(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := &gwmock.MockGateway{
		GetFunc: func(context.Context, string) (*models.Prediction, error) {
			return nil, fmt.Errorf("%w: status 404", gateway.ErrRejected)
		},
	}
	task := seed(t, st)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.RetryScheduled, out.Kind)
	assert.ErrorIs(t, out.Err, gateway.ErrRejected)
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	st := stmock.NewMemoryStore()
	task := seed(t, st)

	out := newEngine(st, gwmock.NewPanickingGateway("boom"), passthrough{}).Execute(context.Background(), task)

	assert.Equal(t, lifecycle.RetryScheduled, out.Kind)
	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "internal error: boom", *job.ErrorMessage)
	assert.Equal(t, 1, job.RetryCount)
}

// panickingClaimStore panics while claiming a job.
type panickingClaimStore struct {
	*stmock.MemoryStore
}

func (panickingClaimStore) MarkProcessing(context.Context, uuid.UUID, int) error {
	panic("connection pool corrupted")
}

func TestExecute_PanicDuringClaimDefers(t *testing.T) {
	st := stmock.NewMemoryStore()
	task := seed(t, st)
	gw := gwmock.NewSucceedingGateway(resultURL, 0)

	var out lifecycle.Outcome
	require.NotPanics(t, func() {
		out = newEngine(panickingClaimStore{st}, gw, passthrough{}).Execute(context.Background(), task)
	})

	assert.Equal(t, lifecycle.Deferred, out.Kind)
	assert.Equal(t, time.Minute, out.Delay)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "connection pool corrupted")
	assert.Zero(t, gw.Creates())

	// The failure was not counted against the job.
	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Nil(t, job.ErrorMessage)
}

func TestExecute_LongErrorMessageTruncated(t *testing.T) {
	st := stmock.NewMemoryStore()
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	task := seed(t, st)

	out := newEngine(st, gwmock.NewRemoteStatusGateway(models.PredictionFailed, string(long)), passthrough{}).
		Execute(context.Background(), task)
	require.Equal(t, lifecycle.RetryScheduled, out.Kind)

	job := getJob(t, st, task.JobID)
	assert.LessOrEqual(t, len(*job.ErrorMessage), 2000)
}

// --- retry lifecycle ---

func TestExecute_ThreeFailuresExhaustRetries(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewFailingGateway(errors.New("model offline"))
	engine := newEngine(st, gw, passthrough{})
	task := seed(t, st)

	wantDelays := []time.Duration{2 * time.Minute, 4 * time.Minute}
	for i, want := range wantDelays {
		out := engine.Execute(context.Background(), task)
		require.Equal(t, lifecycle.RetryScheduled, out.Kind, "attempt %d", i)
		assert.Equal(t, want, out.Delay)
		assert.Equal(t, i+1, out.RetryCount)
		task.Attempt = out.RetryCount
	}

	out := engine.Execute(context.Background(), task)
	assert.Equal(t, lifecycle.FailedTerminal, out.Kind)
	assert.Equal(t, 3, out.RetryCount)

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, 3, gw.Creates())

	// A stray task for the exhausted job does nothing.
	task.Attempt = 3
	out = engine.Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Superseded, out.Kind)
	assert.Equal(t, 3, gw.Creates())
	assert.Equal(t, 3, getJob(t, st, task.JobID).RetryCount)
}

func TestExecute_RetrySucceeds(t *testing.T) {
	st := stmock.NewMemoryStore()
	var creates atomic.Int64
	gw := gwmock.NewSucceedingGateway(resultURL, 0)
	gw.CreateFunc = func(context.Context, string, map[string]any) (*models.Prediction, error) {
		n := creates.Add(1)
		if n == 1 {
			return nil, errors.New("transient")
		}
		return &models.Prediction{ID: fmt.Sprintf("pred-%d", n), Status: models.PredictionStarting}, nil
	}
	engine := newEngine(st, gw, passthrough{})
	task := seed(t, st)

	out := engine.Execute(context.Background(), task)
	require.Equal(t, lifecycle.RetryScheduled, out.Kind)

	out = engine.Execute(context.Background(), task.Next())
	require.Equal(t, lifecycle.Completed, out.Kind)

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.ErrorMessage)
}

func TestExecute_ZeroMaxRetriesStillRunsOnce(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewFailingGateway(errors.New("nope"))
	engine := lifecycle.NewEngine(st, gw, passthrough{}, retry.Policy{Base: 2, Unit: time.Minute, MaxRetries: 0}, fastWait)
	task := seed(t, st)

	out := engine.Execute(context.Background(), task)
	assert.Equal(t, lifecycle.FailedTerminal, out.Kind)
	assert.Equal(t, 1, gw.Creates())
}

// --- duplicate delivery ---

func TestExecute_CompletedJobRedeliveredIsSuperseded(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewSucceedingGateway(resultURL, 0)
	engine := newEngine(st, gw, passthrough{})
	task := seed(t, st)

	require.Equal(t, lifecycle.Completed, engine.Execute(context.Background(), task).Kind)

	out := engine.Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Superseded, out.Kind)
	assert.Equal(t, 1, gw.Creates())
	assert.Equal(t, models.JobStatusCompleted, getJob(t, st, task.JobID).Status)
}

func TestExecute_ConcurrentDuplicateDeliveries(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewSucceedingGateway(resultURL, 1)
	engine := newEngine(st, gw, passthrough{})
	task := seed(t, st)

	outcomes := runConcurrently(engine, task, 4)

	assert.Equal(t, 1, outcomes[lifecycle.Completed])
	assert.Equal(t, 3, outcomes[lifecycle.Superseded])

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestExecute_ConcurrentDuplicateFailuresCountOnce(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewRemoteStatusGateway(models.PredictionFailed, "bad")
	engine := newEngine(st, gw, passthrough{})
	task := seed(t, st)

	outcomes := runConcurrently(engine, task, 4)

	assert.Equal(t, 1, outcomes[lifecycle.RetryScheduled])
	assert.Equal(t, 3, outcomes[lifecycle.Superseded])
	assert.Equal(t, 1, getJob(t, st, task.JobID).RetryCount)
}

func runConcurrently(engine *lifecycle.Engine, task queue.Task, n int) map[lifecycle.Kind]int {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[lifecycle.Kind]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := engine.Execute(context.Background(), task)
			mu.Lock()
			outcomes[out.Kind]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

// --- store and shutdown problems ---

func TestExecute_UnknownJobIsSuperseded(t *testing.T) {
	st := stmock.NewMemoryStore()
	gw := gwmock.NewSucceedingGateway(resultURL, 0)

	out := newEngine(st, gw, passthrough{}).Execute(context.Background(), queue.Task{JobID: uuid.New(), Model: "m"})
	assert.Equal(t, lifecycle.Superseded, out.Kind)
	assert.Zero(t, gw.Creates())
}

func TestExecute_StoreUnavailableDefers(t *testing.T) {
	st := stmock.NewMemoryStore()
	task := seed(t, st)
	st.Err = stmock.ErrUnavailable

	out := newEngine(st, gwmock.NewSucceedingGateway(resultURL, 0), passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Deferred, out.Kind)
	assert.Equal(t, time.Minute, out.Delay)
	assert.ErrorIs(t, out.Err, stmock.ErrUnavailable)
}

func TestExecute_MarkFailedUnavailableDefers(t *testing.T) {
	st := stmock.NewMemoryStore()
	task := seed(t, st)
	st.FailMarkFailed = stmock.ErrUnavailable

	out := newEngine(st, gwmock.NewFailingGateway(errors.New("boom")), passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Deferred, out.Kind)

	// The attempt is still open and can be picked up again.
	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestExecute_ShutdownInterruptsWithoutCountingFailure(t *testing.T) {
	st := stmock.NewMemoryStore()
	task := seed(t, st)
	ctx, cancel := context.WithCancel(context.Background())

	gw := &gwmock.MockGateway{
		GetFunc: func(_ context.Context, id string) (*models.Prediction, error) {
			cancel()
			return &models.Prediction{ID: id, Status: models.PredictionProcessing}, nil
		},
	}

	out := newEngine(st, gw, passthrough{}).Execute(ctx, task)
	assert.Equal(t, lifecycle.Interrupted, out.Kind)

	job := getJob(t, st, task.JobID)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 0, job.RetryCount)

	// Redelivery after restart re-claims the same attempt.
	gw2 := gwmock.NewSucceedingGateway(resultURL, 0)
	out = newEngine(st, gw2, passthrough{}).Execute(context.Background(), task)
	assert.Equal(t, lifecycle.Completed, out.Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "retry_scheduled", lifecycle.RetryScheduled.String())
	assert.Equal(t, "superseded", lifecycle.Superseded.String())
	assert.Equal(t, "unknown", lifecycle.Kind(99).String())
}

var _ lifecycle.JobStore = (store.Store)(nil)
