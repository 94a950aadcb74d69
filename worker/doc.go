// Package worker provides a bounded worker pool for running independent
// tasks, such as validating the resources of a batch, in parallel.
//
// Example usage:
//
//	results := worker.Map(ctx, resources, 4, func(ctx context.Context, r []byte) (*mm.Report, error) {
//	    return validator.ValidateBytes(ctx, r, "")
//	})
//	for _, r := range results {
//	    if r.Err != nil {
//	        // Handle error
//	    }
//	    // Process r.Value
//	}
package worker
