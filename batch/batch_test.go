package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	spans := Partition(7, 3)
	require.Len(t, spans, 3)
	assert.Equal(t, []int{3, 3, 1}, []int{spans[0].Size(), spans[1].Size(), spans[2].Size()})
	assert.Equal(t, Span{Number: 3, Start: 6, End: 7}, spans[2])
	assert.Empty(t, Partition(0, 3))
	assert.Len(t, Partition(4, 0), 2)
}

func TestRunBatchesInOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	var (
		mu        sync.Mutex
		requested []int
		delivered = map[int]bool{}
		violation bool
	)
	fn := func(_ context.Context, item int) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		requested = append(requested, item)
		// Items from batch 2 onward must only be requested once the previous
		// batch has been delivered.
		if batchNo := item/3 + 1; batchNo > 1 && !delivered[batchNo-1] {
			violation = true
		}
		return item * 10, nil
	}

	var sizes []int
	err := Run(context.Background(), items, 3, fn, func(span Span, results []Result[int, int]) {
		mu.Lock()
		delivered[span.Number] = true
		mu.Unlock()
		sizes = append(sizes, len(results))
		for _, r := range results {
			assert.Equal(t, r.Item*10, r.Value)
			assert.Equal(t, r.Item, r.Index)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.False(t, violation)
	assert.Len(t, requested, 7)
}

func TestRunBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 10)
	err := Run(context.Background(), items, 3, func(context.Context, int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inFlight.Add(-1)
		return struct{}{}, nil
	}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunFailureDoesNotStopSiblings(t *testing.T) {
	var calls atomic.Int32
	var failures int
	err := Run(context.Background(), []string{"a", "b", "c", "d"}, 2, func(_ context.Context, s string) (string, error) {
		calls.Add(1)
		if s == "a" {
			return "", errors.New("timeout")
		}
		return s, nil
	}, func(_ Span, results []Result[string, string]) {
		for _, r := range results {
			if r.Err != nil {
				failures++
			}
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 1, failures)
}

func TestRunStopsBetweenBatchesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var batches int
	err := Run(ctx, []int{1, 2, 3, 4}, 2, func(context.Context, int) (int, error) {
		return 0, nil
	}, func(Span, []Result[int, int]) {
		batches++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, batches)
}
