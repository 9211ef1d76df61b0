// Package retry decides whether and when a failed job attempt is retried.
package retry

import (
	"math"
	"time"

	"github.com/kiranshivaraju/mediagen/internal/config"
)

// Policy is an exponential backoff with a hard retry ceiling.
type Policy struct {
	Base       float64
	Unit       time.Duration
	MaxRetries int
}

// FromConfig builds a Policy from the retry settings.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		Base:       cfg.BackoffBase,
		Unit:       cfg.BackoffUnit,
		MaxRetries: cfg.MaxRetries,
	}
}

// Next returns the delay before the next attempt of a job whose retry count
// is retryCount. ok is false once retryCount has reached MaxRetries, which
// means the job is terminally failed.
func (p Policy) Next(retryCount int) (delay time.Duration, ok bool) {
	if retryCount >= p.MaxRetries {
		return 0, false
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := math.Pow(p.Base, float64(retryCount)) * float64(p.Unit)
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(d), true
}

// Exhausted reports whether no further attempt may be scheduled.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
