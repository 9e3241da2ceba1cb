// Package batch runs independent per-session work on a bounded worker pool.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultConcurrency = 4

// Options configures Run.
type Options struct {
	Concurrency int        // Maximum items in flight; 0 means 4.
	RateLimit   rate.Limit // Item starts per second; 0 means unlimited.
	Burst       int        // Limiter burst; 0 means Concurrency.
}

// Result is the outcome of one item. Exactly one of Value/Err is meaningful
// unless Skipped is set, which means the item never started because the
// context was cancelled first.
type Result[R, V any] struct {
	Ref     R
	Value   V
	Err     error
	Skipped bool
}

// Run calls fn for every ref with at most Concurrency calls in flight and
// returns one Result per ref in input order. A failing item never stops the
// others; cancelling ctx stops scheduling and marks the remaining items
// Skipped.
func Run[R, V any](ctx context.Context, refs []R, opts Options, fn func(context.Context, R) (V, error)) []Result[R, V] {
	n := opts.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = n
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	results := make([]Result[R, V], len(refs))
	for i, ref := range refs {
		results[i] = Result[R, V]{Ref: ref, Skipped: true}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(n)
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			v, err := fn(ctx, ref)

			mu.Lock()
			results[i] = Result[R, V]{Ref: ref, Value: v, Err: err}
			mu.Unlock()
			return nil // item errors stay in the result
		})
	}
	_ = g.Wait()
	return results
}

// Failed returns the results whose item ran and returned an error.
func Failed[R, V any](results []Result[R, V]) []Result[R, V] {
	var out []Result[R, V]
	for _, r := range results {
		if !r.Skipped && r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
