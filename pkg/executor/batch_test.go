package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPreservesInputOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results, err := All(context.Background(), BatchPolicy{Size: 7}, items, func(ctx context.Context, n int) (string, error) {
		// finish out of order on purpose
		time.Sleep(time.Duration(50-n) * time.Microsecond)
		return fmt.Sprintf("r%d", n), nil
	})
	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("r%d", i), r)
	}
}

func TestAllNeverExceedsConcurrencyBound(t *testing.T) {
	const bound = 4

	var inFlight, peak int64
	var mu sync.Mutex

	items := make([]int, 40)
	_, err := All(context.Background(), BatchPolicy{Size: bound}, items, func(ctx context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int64(bound))
}

func TestAllPropagatesFirstError(t *testing.T) {
	boom := errors.New("item 3 failed")
	items := []int{0, 1, 2, 3, 4}
	_, err := All(context.Background(), BatchPolicy{Size: 2}, items, func(ctx context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestAllRejectsNonPositiveBatchSize(t *testing.T) {
	_, err := All(context.Background(), BatchPolicy{Size: 0}, []int{1}, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")
}

func TestAllEmptyInput(t *testing.T) {
	results, err := All(context.Background(), BatchPolicy{Size: 3}, nil, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunks(t *testing.T) {
	chunks := Chunks([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 8)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 8)
	assert.Len(t, chunks[1], 2)

	assert.Nil(t, Chunks([]int{}, 8))
	assert.Nil(t, Chunks([]int{1}, 0))
}
