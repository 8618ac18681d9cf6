// Package storage carries the error taxonomy and retry policy shared by
// every persistence adapter (rounds, audit, calibration).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StorageError wraps a backend failure and classifies it. Transient
// failures (connection drops, timeouts, serialization conflicts) are
// retried; permanent ones bubble immediately.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Transient tags err as retryable.
func Transient(op string, err error) *StorageError {
	return &StorageError{Op: op, Transient: true, Err: err}
}

// Permanent tags err as non-retryable.
func Permanent(op string, err error) *StorageError {
	return &StorageError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient StorageError.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// Retry policy: the first attempt plus up to MaxRetries retries on
// transient errors, doubling the backoff each time.
const (
	MaxRetries     = 3
	initialBackoff = 25 * time.Millisecond
)

// Retry runs fn, retrying transient failures with exponential backoff.
// Context cancellation during a backoff wait aborts with the context's
// error so callers surface Timeout rather than a stale storage error.
func Retry(ctx context.Context, op string, fn func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == MaxRetries {
			return fmt.Errorf("%s: %w", op, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
