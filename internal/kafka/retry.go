package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// retryPolicy bounds the connectivity check performed while dialling.
// Refresh cycles never retry; the scheduler owns that decision.
type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var dialRetryPolicy = retryPolicy{
	attempts:       4,
	initialBackoff: 500 * time.Millisecond,
	maxBackoff:     4 * time.Second,
}

// isAuthError returns true for errors that indicate SASL authentication or
// authorization failures. These are permanent.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.SaslAuthenticationFailed,
			kerr.UnsupportedSaslMechanism,
			kerr.IllegalSaslState,
			kerr.TopicAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.GroupAuthorizationFailed,
			kerr.TransactionalIDAuthorizationFailed:
			return true
		}
	}

	var eof *kgo.ErrFirstReadEOF
	return errors.As(err, &eof)
}

// isRetryable reports transient broker errors: timeouts, broker restarts,
// temporary leader unavailability.
func isRetryable(err error) bool {
	if err == nil || isAuthError(err) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}

	if errors.Is(err, net.ErrClosed) {
		return true
	}

	// Dial timeouts are retryable; connection-refused is not
	var ne *net.OpError
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}

func withRetry(ctx context.Context, desc string, fn func() error) error {
	return dialRetryPolicy.do(ctx, desc, fn)
}

// do runs fn up to p.attempts times with exponential backoff. Auth and
// other permanent errors fail immediately.
func (p retryPolicy) do(ctx context.Context, desc string, fn func() error) error {
	backoff := p.initialBackoff

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == p.attempts {
			break
		}

		slog.Warn("retrying after transient error",
			"operation", desc,
			"attempt", attempt,
			"max_attempts", p.attempts,
			"backoff", backoff,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %w)", desc, ctx.Err(), lastErr)
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, p.maxBackoff)
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", desc, p.attempts, lastErr)
}
