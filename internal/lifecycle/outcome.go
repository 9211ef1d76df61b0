package lifecycle

import "time"

// Kind is what happened to one execution attempt.
type Kind int

const (
	// Completed: the job reached completed.
	Completed Kind = iota
	// RetryScheduled: the attempt failed and another attempt should run after
	// Delay with the job's new retry count.
	RetryScheduled
	// FailedTerminal: the attempt failed and the job has used up its retries.
	FailedTerminal
	// Superseded: another delivery already moved the job past this attempt,
	// or the job no longer exists. Nothing to schedule.
	Superseded
	// Deferred: the store could not record the attempt's result. The same
	// attempt should be delivered again after Delay.
	Deferred
	// Interrupted: the worker is shutting down. The task must stay in flight
	// so it is redelivered on restart.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case RetryScheduled:
		return "retry_scheduled"
	case FailedTerminal:
		return "failed_terminal"
	case Superseded:
		return "superseded"
	case Deferred:
		return "deferred"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Outcome is the result of Engine.Execute. The dispatch layer acts on it;
// the engine never schedules anything itself.
type Outcome struct {
	Kind Kind
	// Delay before the next delivery, for RetryScheduled and Deferred.
	Delay time.Duration
	// RetryCount is the job's retry count after a failed attempt. The next
	// attempt for RetryScheduled runs with this value.
	RetryCount int
	// MediaPath is set for Completed.
	MediaPath string
	// Err is the failure cause, if any.
	Err error
}
