package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	dErrors "bnpl/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Errors    int32

	mu     sync.Mutex
	byCode map[dErrors.Code]int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors
}

// Count returns how many operations failed with the given domain error code.
func (r *ConcurrentResult) Count(code dErrors.Code) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byCode[code]
}

// RunConcurrent executes fn in parallel goroutines released at the same instant
// and buckets failures by domain error code.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	res := &ConcurrentResult{byCode: make(map[dErrors.Code]int32)}
	var successes, errs atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := range goroutines {
		wg.Go(func() {
			<-start
			err := fn(i)
			if err == nil {
				successes.Add(1)
				return
			}
			errs.Add(1)
			var code dErrors.Code = "unclassified"
			for _, c := range classifiedCodes {
				if dErrors.HasCode(err, c) {
					code = c
					break
				}
			}
			res.mu.Lock()
			res.byCode[code]++
			res.mu.Unlock()
		})
	}
	close(start)
	wg.Wait()

	res.Successes = successes.Load()
	res.Errors = errs.Load()
	return res
}

var classifiedCodes = []dErrors.Code{
	dErrors.CodeCreditLimitExceeded,
	dErrors.CodeInsufficientCoins,
	dErrors.CodeAlreadyPaid,
	dErrors.CodeInvalidState,
	dErrors.CodeNotFound,
	dErrors.CodeConflict,
	dErrors.CodeInternal,
}

// RunConcurrentCtx executes fn in parallel goroutines with context support.
func RunConcurrentCtx(ctx context.Context, goroutines int, fn func(ctx context.Context, idx int) error) *ConcurrentResult {
	return RunConcurrent(goroutines, func(idx int) error {
		return fn(ctx, idx)
	})
}
