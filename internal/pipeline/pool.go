package pipeline

import (
	"context"
	"sync"
)

// runPool runs fn for each index in [0, n) on at most workers
// goroutines. A canceled context stops new submissions; jobs already
// running finish on their own before runPool returns.
func runPool(ctx context.Context, workers, n int, fn func(i int)) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
}
