package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/websearch/pkg/errors"
)

// TimeoutError reports that op ran past its deadline. It matches both
// apperrors.ErrTimeout and context.DeadlineExceeded.
type TimeoutError struct {
	Op    string
	Limit time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v: %v", e.Op, e.Limit, e.Err)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{apperrors.ErrTimeout, context.DeadlineExceeded, e.Err}
}

// PublicMessage is safe to send to clients.
func (e *TimeoutError) PublicMessage() string {
	return e.Op + " timed out"
}

// WithTimeout runs fn under a deadline of timeout and waits for it to return,
// so nothing fn does outlives the call. fn must honour ctx. When the deadline
// rather than the parent context ended fn, the error is a *TimeoutError. A
// timeout of zero or less runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil || ctx.Err() != nil || !errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	return &TimeoutError{Op: op, Limit: timeout, Err: err}
}
