package admission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueTimeout is matched by every *QueueTimeoutError.
	ErrQueueTimeout = errors.New("admission queue timeout")
	// ErrControllerReset is returned to callers that were queued or waiting when Reset ran.
	ErrControllerReset = errors.New("admission controller reset")
	// ErrRateLimited is returned by callers of Do to report a rate-limit rejection
	// from the remote service.
	ErrRateLimited = errors.New("rate limited by remote service")
)

// QueueTimeoutError reports a caller that was not admitted within the queue timeout.
type QueueTimeoutError struct {
	Key     string
	Waited  time.Duration
	Timeout time.Duration
}

func (e *QueueTimeoutError) Error() string {
	return fmt.Sprintf("controller '%s': not admitted after %s (queue timeout %s)", e.Key, e.Waited, e.Timeout)
}

func (e *QueueTimeoutError) Is(target error) bool {
	return target == ErrQueueTimeout
}

func (e *QueueTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
