package worker

import (
	"context"
	"time"
)

// Func processes one input.
type Func[T, R any] func(ctx context.Context, in T) (R, error)

// Job is one unit of work submitted to a Pool.
type Job[T any] struct {
	// ID is an optional caller-chosen identifier.
	ID string

	// Index is the position of the job in its batch.
	Index int

	// Input is passed to the pool's Func.
	Input T
}

// Result is the outcome of one Job.
type Result[R any] struct {
	// ID and Index match the Job that produced this result.
	ID    string
	Index int

	// Value is the Func's return value; zero when Err is set.
	Value R

	// Err is the Func's error, or the context error for jobs that never ran.
	Err error

	// Duration is the time spent in the Func.
	Duration time.Duration
}

// Failed counts the results with an error.
func Failed[R any](results []Result[R]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
