package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
	"github.com/aks129/FhirMapMaster/stream"
	"github.com/aks129/FhirMapMaster/worker"
)

// BatchItem is the outcome for one resource of a batch.
type BatchItem struct {
	// Index is the position of the resource in the batch, or of its entry
	// in the bundle.
	Index int

	// FullURL is the bundle entry's fullUrl, when validating a bundle.
	FullURL string

	// Report is nil when Err is set.
	Report *mm.Report

	// Err is a configuration or cancellation error for this resource.
	Err error
}

// BatchResult aggregates the reports of a batch, in input order.
type BatchResult struct {
	Items    []BatchItem
	Duration time.Duration
}

// Passed counts the resources whose report passed.
func (b *BatchResult) Passed() int {
	n := 0
	for _, it := range b.Items {
		if it.Report != nil && it.Report.Status == mm.StatusPass {
			n++
		}
	}
	return n
}

// Failed counts the resources that failed validation or could not be
// validated.
func (b *BatchResult) Failed() int {
	return len(b.Items) - b.Passed()
}

// HasErrors reports whether any resource failed.
func (b *BatchResult) HasErrors() bool {
	return b.Failed() > 0
}

// ErrorCount returns the number of error issues across all reports.
func (b *BatchResult) ErrorCount() int {
	count := 0
	for _, it := range b.Items {
		if it.Report != nil {
			count += it.Report.ErrorCount()
		}
	}
	return count
}

// Reports returns the non-nil reports in input order.
func (b *BatchResult) Reports() []*mm.Report {
	out := make([]*mm.Report, 0, len(b.Items))
	for _, it := range b.Items {
		if it.Report != nil {
			out = append(out, it.Report)
		}
	}
	return out
}

// Summary returns a human-readable summary of the batch.
func (b *BatchResult) Summary() string {
	warnings := 0
	for _, it := range b.Items {
		if it.Report != nil {
			warnings += it.Report.WarningCount()
		}
	}
	return fmt.Sprintf("Validated %d resources: %d passed, %d failed, %d errors, %d warnings",
		len(b.Items), b.Passed(), b.Failed(), b.ErrorCount(), warnings)
}

// ValidateBatch validates independent resources in parallel. References
// between them resolve against the batch. Every resource uses profileID,
// or its default profile when profileID is empty.
func (v *Validator) ValidateBatch(ctx context.Context, resources []map[string]any, profileID string) *BatchResult {
	return v.validateAll(ctx, resources, nil, nil, profileID)
}

// ValidateBundle reads a Bundle from r and validates its entry resources
// as one batch, each against its default profile. Entries without a
// resource are skipped. A document holding a single resource is validated
// as a batch of one. The error is set only when the document cannot be
// read.
func (v *Validator) ValidateBundle(ctx context.Context, r io.Reader) (*BatchResult, error) {
	entries, err := stream.ReadAll(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	resources := make([]map[string]any, 0, len(entries))
	fullURLs := make([]string, 0, len(entries))
	indexes := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.Resource == nil {
			continue
		}
		resources = append(resources, e.Resource)
		fullURLs = append(fullURLs, e.FullURL)
		indexes = append(indexes, e.Index)
	}
	return v.validateAll(ctx, resources, fullURLs, indexes, ""), nil
}

// validateAll validates resources concurrently. indexes, when given, maps
// each resource to its position in the source bundle.
func (v *Validator) validateAll(ctx context.Context, resources []map[string]any, fullURLs []string, indexes []int, profileID string) *BatchResult {
	start := time.Now()
	batch := pipeline.NewBatchIndex(resources, fullURLs...)

	results := worker.Map(ctx, resources, v.options.WorkerCount,
		func(ctx context.Context, res map[string]any) (*mm.Report, error) {
			return v.validate(ctx, res, profileID, batch)
		})

	out := &BatchResult{Items: make([]BatchItem, len(results))}
	for i, r := range results {
		out.Items[i] = BatchItem{Index: i, Report: r.Value, Err: r.Err}
		if i < len(indexes) {
			out.Items[i].Index = indexes[i]
		}
		if i < len(fullURLs) {
			out.Items[i].FullURL = fullURLs[i]
		}
	}
	out.Duration = time.Since(start)

	v.logger.Info("batch validated",
		zap.Int("resources", len(resources)),
		zap.Int("failed", out.Failed()),
		zap.Int("errors", worker.Failed(results)),
		zap.Duration("elapsed", out.Duration),
	)
	return out
}
