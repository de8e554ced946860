package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCollectsEveryResult(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	results := Run(context.Background(), 3, items, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})

	require.Len(t, results, len(items))
	seen := map[int]int{}
	for _, r := range results {
		require.NoError(t, r.Err)
		seen[r.Index] = r.Value
	}
	for i, n := range items {
		assert.Equal(t, n*n, seen[i])
	}
}

func TestRunFailureDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32

	results := Run(context.Background(), 2, []string{"a", "fail", "b", "c"}, func(ctx context.Context, s string) (string, error) {
		ran.Add(1)
		if s == "fail" {
			return "", boom
		}
		time.Sleep(5 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		return s, nil
	})

	assert.EqualValues(t, 4, ran.Load())
	var values []string
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		values = append(values, r.Value)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, values)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	var active, peak atomic.Int32
	items := make([]int, 20)

	Run(context.Background(), 4, items, func(context.Context, int) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Run(ctx, 2, []int{1, 2}, func(context.Context, int) (int, error) {
		t.Error("task should not start")
		return 0, nil
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}
