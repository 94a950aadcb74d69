package feedback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/suggest"
)

// Bounds controls how far a single decision moves a weight and the range
// weights stay in.
type Bounds struct {
	Step    float64
	Ceiling float64
	Floor   float64
}

// DefaultBounds returns step 1.05 within [0.25, 2.0].
func DefaultBounds() Bounds {
	return Bounds{Step: 1.05, Ceiling: 2.0, Floor: 0.25}
}

func (b Bounds) valid() bool {
	return b.Step > 1 && b.Floor > 0 && b.Floor <= 1 && b.Ceiling >= 1
}

// adjust moves factor one step up or down within the bounds.
func (b Bounds) adjust(factor float64, up bool) float64 {
	if up {
		factor *= b.Step
	} else {
		factor /= b.Step
	}
	if factor > b.Ceiling {
		return b.Ceiling
	}
	if factor < b.Floor {
		return b.Floor
	}
	return factor
}

// Weights is the learned state derived from the feedback log.
type Weights struct {
	// Factors maps weight keys ("rule:<id>", "provider:<name>") to factors.
	// Missing keys are neutral (1.0).
	Factors map[string]float64 `json:"factors"`

	// Accepted counts accepted paths per "<resource>|<normalized field>".
	Accepted map[string]map[string]int `json:"accepted"`
}

func newWeights() Weights {
	return Weights{
		Factors:  make(map[string]float64),
		Accepted: make(map[string]map[string]int),
	}
}

// Factor returns the factor of a weight key.
func (w Weights) Factor(key string) float64 {
	if f, ok := w.Factors[key]; ok {
		return f
	}
	return 1
}

// RuleFactor returns the adjustment factor of a pattern rule.
func (w Weights) RuleFactor(ruleID string) float64 {
	return w.Factor(mm.Origin{Kind: mm.OriginPattern, Source: ruleID}.WeightKey())
}

// ProviderTrust returns the trust score of a provider.
func (w Weights) ProviderTrust(name string) float64 {
	if name == suggest.HistoryProviderName {
		return w.Factor(mm.Origin{Kind: mm.OriginHistorical}.WeightKey())
	}
	return w.Factor(mm.Origin{Kind: mm.OriginAI, Source: name}.WeightKey())
}

// History returns previously accepted paths, most frequent first.
func (w Weights) History(resource, normalizedName string) []suggest.HistoryEntry {
	counts := w.Accepted[historyKey(resource, normalizedName)]
	out := make([]suggest.HistoryEntry, 0, len(counts))
	for path, n := range counts {
		out = append(out, suggest.HistoryEntry{TargetPath: path, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TargetPath < out[j].TargetPath
	})
	return out
}

func (w Weights) clone() Weights {
	c := newWeights()
	for k, v := range w.Factors {
		c.Factors[k] = v
	}
	for k, paths := range w.Accepted {
		m := make(map[string]int, len(paths))
		for p, n := range paths {
			m[p] = n
		}
		c.Accepted[k] = m
	}
	return c
}

func historyKey(resource, normalizedName string) string {
	return resource + "|" + normalizedName
}

// Recompute folds a feedback log into weights. It is pure: the same log and
// bounds always give the same weights.
func Recompute(records []Record, b Bounds) Weights {
	w := newWeights()
	for _, rec := range records {
		key := rec.Origin.WeightKey()
		w.Factors[key] = b.adjust(w.Factor(key), rec.Decision.Positive())
		if path := rec.AcceptedPath(); path != "" && rec.Field != "" {
			hk := historyKey(rec.Resource, rec.Field)
			if w.Accepted[hk] == nil {
				w.Accepted[hk] = make(map[string]int)
			}
			w.Accepted[hk][path]++
		}
	}
	return w
}

// LearnerOption configures a Learner.
type LearnerOption func(*Learner)

// WithBounds sets the learning bounds. Invalid bounds are ignored.
func WithBounds(b Bounds) LearnerOption {
	return func(l *Learner) {
		if b.valid() {
			l.bounds = b
		}
	}
}

// WithLearnerLogger sets the logger.
func WithLearnerLogger(logger *zap.Logger) LearnerOption {
	return func(l *Learner) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLearnerMetrics sets the metrics sink.
func WithLearnerMetrics(m *mm.Metrics) LearnerOption {
	return func(l *Learner) { l.metrics = m }
}

// WithClock overrides the timestamp source for new records.
func WithClock(now func() time.Time) LearnerOption {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

// Learner stores feedback and keeps the derived weights current. Updates
// for one weight key are serialized; different keys proceed in parallel.
// It implements pattern.WeightSource, suggest.TrustSource and
// suggest.HistorySource.
type Learner struct {
	store   Store
	bounds  Bounds
	logger  *zap.Logger
	metrics *mm.Metrics
	now     func() time.Time

	// replayMu is held shared by Record and exclusively by Replay, so a
	// replay never discards a decision applied while it read the log.
	replayMu sync.RWMutex
	keyLocks sync.Map // map[string]*sync.Mutex

	mu      sync.RWMutex
	weights Weights
	applied map[string]struct{}
}

// NewLearner creates a learner over store with neutral weights. Call
// Replay to load the existing log.
func NewLearner(store Store, opts ...LearnerOption) *Learner {
	l := &Learner{
		store:   store,
		bounds:  DefaultBounds(),
		logger:  zap.NewNop(),
		now:     time.Now,
		weights: newWeights(),
		applied: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bounds returns the learning bounds.
func (l *Learner) Bounds() Bounds { return l.bounds }

func (l *Learner) keyLock(key string) *sync.Mutex {
	if m, ok := l.keyLocks.Load(key); ok {
		return m.(*sync.Mutex)
	}
	m, _ := l.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Record appends rec to the log and applies it. A missing ID or timestamp
// is filled in. If the append fails the weights are left untouched and the
// error, wrapping mapmaster.ErrStorage, must be retried by the caller.
// Recording an ID the log already holds is not an error: the decision is
// applied at most once.
func (l *Learner) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = l.now().UTC()
	}
	rec.Field = strings.TrimSpace(rec.Field)
	if err := rec.Validate(); err != nil {
		return rec, fmt.Errorf("invalid feedback record: %w", err)
	}

	l.replayMu.RLock()
	defer l.replayMu.RUnlock()

	key := rec.Origin.WeightKey()
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	err := l.store.Append(ctx, rec)
	switch {
	case errors.Is(err, ErrDuplicate):
		l.mu.RLock()
		_, done := l.applied[rec.ID]
		l.mu.RUnlock()
		if done {
			l.logger.Debug("feedback already recorded",
				zap.String("key", key),
				zap.String("id", rec.ID),
			)
			return rec, nil
		}
		// Stored by an earlier attempt that reported a failure.
	case err != nil:
		if l.metrics != nil {
			l.metrics.RecordFeedback(false)
		}
		l.logger.Error("feedback append failed",
			zap.String("key", key),
			zap.String("decision", string(rec.Decision)),
			zap.Error(err),
		)
		return rec, err
	}

	l.mu.Lock()
	before := l.weights.Factor(key)
	after := l.bounds.adjust(before, rec.Decision.Positive())
	l.weights.Factors[key] = after
	if path := rec.AcceptedPath(); path != "" && rec.Field != "" {
		hk := historyKey(rec.Resource, rec.Field)
		if l.weights.Accepted[hk] == nil {
			l.weights.Accepted[hk] = make(map[string]int)
		}
		l.weights.Accepted[hk][path]++
	}
	l.applied[rec.ID] = struct{}{}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordFeedback(true)
	}
	l.logger.Debug("feedback recorded",
		zap.String("key", key),
		zap.String("decision", string(rec.Decision)),
		zap.Float64("before", before),
		zap.Float64("after", after),
	)
	return rec, nil
}

// Replay rebuilds the weights from the stored log. Records arriving while
// it runs wait for it to finish.
func (l *Learner) Replay(ctx context.Context) error {
	l.replayMu.Lock()
	defer l.replayMu.Unlock()

	records, err := l.store.Records(ctx)
	if err != nil {
		return err
	}
	w := Recompute(records, l.bounds)
	applied := make(map[string]struct{}, len(records))
	for _, rec := range records {
		applied[rec.ID] = struct{}{}
	}

	l.mu.Lock()
	l.weights = w
	l.applied = applied
	l.mu.Unlock()

	l.logger.Info("feedback replayed",
		zap.Int("records", len(records)),
		zap.Int("weights", len(w.Factors)),
	)
	return nil
}

// Snapshot returns a copy of the current weights.
func (l *Learner) Snapshot() Weights {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights.clone()
}

// Factor returns the current factor of a weight key.
func (l *Learner) Factor(key string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights.Factor(key)
}

// RuleFactor implements pattern.WeightSource.
func (l *Learner) RuleFactor(ruleID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights.RuleFactor(ruleID)
}

// ProviderTrust implements suggest.TrustSource.
func (l *Learner) ProviderTrust(name string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights.ProviderTrust(name)
}

// History implements suggest.HistorySource.
func (l *Learner) History(resource, normalizedName string) []suggest.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights.History(resource, normalizedName)
}
