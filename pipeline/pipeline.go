package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
)

// Pipeline runs the registered phases over a resource in layer order:
// Structural, Profile, Terminology, BusinessRules. A structural error is
// fatal: every later layer is marked skipped.
type Pipeline struct {
	// phases holds one phase per layer
	phases map[mm.Layer]Phase

	metrics *mm.Metrics
	logger  *zap.Logger

	// mu protects phases
	mu sync.RWMutex
}

// NewPipeline creates an empty pipeline. metrics may be nil.
func NewPipeline(metrics *mm.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		phases:  make(map[mm.Layer]Phase, 4),
		metrics: metrics,
		logger:  logger,
	}
}

// Register sets the phase for its layer, replacing any previous one.
func (p *Pipeline) Register(phase Phase) {
	p.mu.Lock()
	p.phases[phase.Layer()] = phase
	p.mu.Unlock()
}

// Has reports whether a phase is registered for layer.
func (p *Pipeline) Has(layer mm.Layer) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.phases[layer]
	return ok
}

// Execute validates pctx through the requested layers and returns the
// report. It fails only when a requested layer has no phase or ctx is done.
func (p *Pipeline) Execute(ctx context.Context, pctx *Context, layers mm.LayerSet) (*mm.Report, error) {
	p.mu.RLock()
	phases := make([]Phase, 0, layers.Len())
	for _, l := range layers.Layers() {
		phase, ok := p.phases[l]
		if !ok {
			p.mu.RUnlock()
			return nil, fmt.Errorf("%w: no phase registered for layer %s", mm.ErrConfiguration, l)
		}
		phases = append(phases, phase)
	}
	p.mu.RUnlock()

	report := mm.NewReport(pctx.ResourceType, pctx.ResourceID, pctx.ProfileID)
	fatal := false

	for _, phase := range phases {
		layer := phase.Layer()
		if fatal {
			report.MarkSkipped(layer)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		issues := phase.Validate(ctx, pctx)
		elapsed := time.Since(start)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range issues {
			if issues[i].Layer == "" {
				issues[i].Layer = layer
			}
		}
		report.AddIssues(issues)
		report.MarkCompleted(layer)

		if p.metrics != nil {
			p.metrics.RecordLayer(layer, elapsed, len(issues))
		}
		p.logger.Debug("layer completed",
			zap.String("layer", string(layer)),
			zap.String("resource_type", pctx.ResourceType),
			zap.Int("issues", len(issues)),
			zap.Duration("elapsed", elapsed),
		)

		if layer == mm.LayerStructural && hasError(issues) {
			fatal = true
		}
	}
	return report, nil
}

func hasError(issues []mm.Issue) bool {
	for _, i := range issues {
		if i.IsError() {
			return true
		}
	}
	return false
}
