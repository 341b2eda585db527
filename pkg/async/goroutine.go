package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

// SafeGo executes fn in a goroutine with a timeout. Errors and panics are
// logged, never propagated.
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		if err := call(ctx, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// call runs fn, turning a panic into an error
func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Batch calls fn for every item with at most workers calls in flight and
// returns the errors by item index; a nil slot means success. Items not
// started before ctx is done get ctx.Err().
func Batch[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = call(ctx, func(ctx context.Context) error { return fn(ctx, items[i]) })
			}
		}()
	}

	for i := range items {
		if ctx.Err() == nil {
			select {
			case next <- i:
				continue
			case <-ctx.Done():
			}
		}
		errs[i] = ctx.Err()
	}
	close(next)
	wg.Wait()
	return errs
}

// Failed counts the non-nil errors returned by Batch
func Failed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
