// Package workerpool runs independent tasks on a bounded number of goroutines
// and hands back one Result per task.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one task. Index is the position of the task's
// input in the slice passed to Run.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Run calls fn for every item using at most workers goroutines and blocks
// until all of them returned. Results are appended in completion order. A
// failing task only sets its own Err; siblings keep running. Tasks that have
// not started when ctx is done report ctx.Err().
func Run[T, R any](
	ctx context.Context,
	workers int,
	items []T,
	fn func(ctx context.Context, item T) (R, error),
) []Result[R] {
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result[R], 0, len(items))
	mu := sync.Mutex{}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			res := Result[R]{Index: i}
			select {
			case <-ctx.Done():
				res.Err = ctx.Err()
			default:
				res.Value, res.Err = fn(ctx, item)
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
