package worker

import (
	"context"
	"runtime"
)

// Map runs fn over inputs on at most workers goroutines and returns the
// results in input order. Inputs left unprocessed when ctx ends carry
// ctx.Err().
func Map[T, R any](ctx context.Context, inputs []T, workers int, fn Func[T, R]) []Result[R] {
	results := make([]Result[R], len(inputs))
	if len(inputs) == 0 {
		return results
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	// Small batches run inline.
	if workers == 1 {
		for i, in := range inputs {
			results[i] = Result[R]{Index: i}
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				continue
			}
			results[i].Value, results[i].Err = fn(ctx, in)
		}
		return results
	}

	pool := NewPool(ctx, fn, workers)
	go func() {
		defer pool.Finish()
		for i, in := range inputs {
			if !pool.Submit(Job[T]{Index: i, Input: in}) {
				return
			}
		}
	}()

	done := make([]bool, len(inputs))
	for r := range pool.Results() {
		results[r.Index] = r
		done[r.Index] = true
	}
	pool.Close()

	for i := range results {
		if !done[i] {
			results[i] = Result[R]{Index: i, Err: ctx.Err()}
		}
	}
	return results
}
