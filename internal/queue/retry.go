package queue

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy decides how often and how late a failed envelope is redelivered.
//
// Attempts:     total deliveries including the first one.
// InitialDelay: wait after the first failure.
// Multiplier:   growth factor applied per further failure.
// MaxDelay:     cap on any single wait; zero means uncapped.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is three attempts with 2s, then 4s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2, MaxDelay: time.Minute}
}

func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", p.Attempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Backoff returns the wait before redelivering an envelope whose attempt
// number failedAttempt just failed.
func (p RetryPolicy) Backoff(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(failedAttempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether no redelivery follows a failure of attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.Attempts
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the envelope is dead-lettered at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
