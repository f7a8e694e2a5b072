package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storyteller/server/domain/repositories"
)

// ErrorClass partitions failures by how the orchestrator reacts to them.
type ErrorClass string

const (
	// ClassTransportClosed is a clean close on either end. Not a failure;
	// triggers teardown without a device-visible error.
	ClassTransportClosed ErrorClass = "TRANSPORT_CLOSED"

	// ClassUpstreamUnavailable means the conversation could not be opened
	// or reopened within the retry budget. Terminal for the attempt.
	ClassUpstreamUnavailable ErrorClass = "UPSTREAM_UNAVAILABLE"

	// ClassUpstreamTransient is a mid-session stream failure. Retried with
	// backoff before escalating to ClassUpstreamUnavailable.
	ClassUpstreamTransient ErrorClass = "UPSTREAM_TRANSIENT"

	// ClassInvalidToolCall is a malformed selection payload. Ignored, the
	// session stays in the menu phase.
	ClassInvalidToolCall ErrorClass = "INVALID_TOOL_CALL"

	// ClassTopicNotFound is a well-formed selection with no catalog match.
	ClassTopicNotFound ErrorClass = "TOPIC_NOT_FOUND"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrTransportClosed     = errors.New("transport closed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTransient   = errors.New("upstream transient failure")
	ErrInvalidToolCall     = errors.New("invalid tool call")
	ErrTopicNotFound       = errors.New("topic not found")
)

// classify maps an arbitrary error onto the taxonomy. Unknown errors are
// treated as transient so they go through the retry budget before the device
// is told anything.
func classify(err error) ErrorClass {
	switch {
	case err == nil, errors.Is(err, ErrTransportClosed):
		return ClassTransportClosed
	case errors.Is(err, ErrUpstreamUnavailable):
		return ClassUpstreamUnavailable
	case errors.Is(err, ErrInvalidToolCall):
		return ClassInvalidToolCall
	case errors.Is(err, ErrTopicNotFound), errors.Is(err, repositories.ErrEpisodeNotFound):
		return ClassTopicNotFound
	case errors.Is(err, ErrUpstreamTransient):
		return ClassUpstreamTransient
	default:
		return ClassUpstreamTransient
	}
}

// RetryPolicy bounds reconnect attempts with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the delay before the given attempt (first attempt is 0,
// which waits nothing).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// withRetry runs fn up to MaxAttempts times, sleeping the backoff between
// attempts. Cancellation of ctx aborts immediately. Exhausting the budget
// wraps the last error as ErrUpstreamUnavailable.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if delay := policy.Backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %d attempts failed: %v", ErrUpstreamUnavailable, attempts, lastErr)
}
