package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclob/serum-gateway/pkg/metrics"
)

// BatchPolicy bounds the concurrency of a collection of independent remote
// calls. Size is the hard ceiling on simultaneously in-flight calls; Delay is
// the mandatory pause inserted between consecutive chunks. Both exist to stay
// under the RPC provider's rate limit.
type BatchPolicy struct {
	Size  int
	Delay time.Duration
}

// All processes every item with fn, at most policy.Size at a time, pausing
// policy.Delay between chunks. Results are returned in input order regardless
// of completion order. The first failure within a chunk cancels that chunk
// and is returned; callers wanting per-item error isolation wrap fn
// themselves.
func All[T, R any](ctx context.Context, policy BatchPolicy, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	if policy.Size <= 0 {
		return nil, fmt.Errorf("executor: batch size must be positive, got %d", policy.Size)
	}

	results := make([]R, len(items))

	for start := 0; start < len(items); start += policy.Size {
		end := start + policy.Size
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				metrics.BatchInFlight.Inc()
				defer metrics.BatchInFlight.Dec()

				out, err := fn(gctx, items[i])
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if end < len(items) && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Delay):
			}
		}
	}

	return results, nil
}

// Each is All for callers that only care about side effects.
func Each[T any](ctx context.Context, policy BatchPolicy, items []T, fn func(context.Context, T) error) error {
	_, err := All(ctx, policy, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}

// Chunks splits items into consecutive slices of at most size elements.
// Used by the order lifecycle engine to respect per-transaction operation
// limits.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
