// Package batch runs calls over an ordered list in fixed-size batches. All
// calls in a batch run concurrently and the batch settles before the next
// one starts.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the narrative scorer's concurrency ceiling.
const DefaultSize = 3

// Result is one settled call.
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// Span locates a batch within the input.
type Span struct {
	Number int
	Start  int
	End    int
}

// Size returns the number of items in the batch.
func (s Span) Size() int {
	return s.End - s.Start
}

// Partition splits n items into consecutive batches of at most size.
func Partition(n, size int) []Span {
	if size <= 0 {
		size = DefaultSize
	}
	var spans []Span
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		spans = append(spans, Span{Number: len(spans) + 1, Start: start, End: end})
	}
	return spans
}

// Run calls fn for every item, size at a time. A failed call never stops
// its siblings or later batches; its error is reported in the Result.
// onBatch runs on the calling goroutine after each batch settles and before
// the next batch is issued. Run returns early only when ctx is cancelled
// between batches.
func Run[T, R any](ctx context.Context, items []T, size int, fn func(context.Context, T) (R, error), onBatch func(Span, []Result[T, R])) error {
	for _, span := range Partition(len(items), size) {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make([]Result[T, R], span.Size())
		var g errgroup.Group
		for i := span.Start; i < span.End; i++ {
			slot := &results[i-span.Start]
			slot.Index = i
			slot.Item = items[i]
			g.Go(func() error {
				slot.Value, slot.Err = fn(ctx, slot.Item)
				return nil
			})
		}
		_ = g.Wait()

		if onBatch != nil {
			onBatch(span, results)
		}
	}
	return nil
}
