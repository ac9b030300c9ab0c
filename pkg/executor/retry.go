// Package executor wraps remote calls with bounded retries, timeouts and
// rate-limit friendly batching. It is the single place where the
// unreliability of the chain RPC endpoint is absorbed: callers see either a
// result, a typed permanent error, or a timeout.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openclob/serum-gateway/pkg/metrics"
)

// RetryPolicy bounds a single logical remote operation.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay is the wait between consecutive attempts.
	Delay time.Duration
	// Timeout bounds the whole attempt sequence in wall-clock time.
	// Zero means no timeout.
	Timeout time.Duration
}

// TimeoutError reports that the cumulative retry sequence exceeded the
// configured wall-clock bound. It is distinct from the underlying failure so
// callers can tell "the call kept failing" apart from "we ran out of time".
type TimeoutError struct {
	Op    string
	Limit time.Duration
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s: %v", e.Op, e.Limit, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// Permanent marks err as non-retryable. The executor propagates it
// immediately without consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Run invokes op, retrying failures according to the policy. The last error
// is returned once retries are exhausted. If the policy timeout elapses the
// returned error is a *TimeoutError wrapping whatever failed last.
func Run[T any](ctx context.Context, name string, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	var lastErr error
	attempt := 0

	wrapped := func() (T, error) {
		attempt++
		out, err := op(ctx)
		if err != nil {
			lastErr = err
		}
		return out, err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(policy.Delay)
	b = backoff.WithMaxRetries(b, uint64(policy.MaxRetries))
	b = backoff.WithContext(b, ctx)

	started := time.Now()
	out, err := backoff.RetryWithData(wrapped, b)
	metrics.RPCLatency.Observe(time.Since(started).Seconds())

	if err == nil {
		if attempt > 1 {
			metrics.RPCRetries.WithLabelValues("recovered").Inc()
		}
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr == context.DeadlineExceeded && policy.Timeout > 0 {
		metrics.RPCRetries.WithLabelValues("timeout").Inc()
		if lastErr == nil {
			lastErr = ctxErr
		}
		var zero T
		return zero, &TimeoutError{Op: name, Limit: policy.Timeout, Cause: lastErr}
	}

	if attempt > 1 {
		metrics.RPCRetries.WithLabelValues("exhausted").Inc()
	}
	return out, err
}
