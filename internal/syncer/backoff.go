package syncer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// TransientError marks a failure worth retrying: timeouts, transport
// faults, server unavailability. Validation and sequencing failures are
// never transient.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Backoff produces exponential delays with jitter: base, 2*base, 4*base,
// 8*base, each widened by up to a quarter of itself.
type Backoff struct {
	Base time.Duration
}

// Delay returns the wait before retry attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << attempt
	if d <= 0 {
		d = b.Base
	}
	return d + rand.N(d/4+1)
}
