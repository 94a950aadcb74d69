package mapmaster

import (
	"sync"
	"testing"
	"time"
)

func TestMetrics_Basic(t *testing.T) {
	m := NewMetrics()

	if m.ValidationsTotal() != 0 {
		t.Errorf("ValidationsTotal() = %d; want 0", m.ValidationsTotal())
	}

	m.RecordValidation(100*time.Millisecond, true)
	m.RecordValidation(300*time.Millisecond, false)

	if m.ValidationsTotal() != 2 {
		t.Errorf("ValidationsTotal() = %d; want 2", m.ValidationsTotal())
	}
	if m.ValidationsPassed() != 1 {
		t.Errorf("ValidationsPassed() = %d; want 1", m.ValidationsPassed())
	}
	if rate := m.PassRate(); rate != 0.5 {
		t.Errorf("PassRate() = %f; want 0.5", rate)
	}
	if avg := m.AverageValidationTime(); avg != 200*time.Millisecond {
		t.Errorf("AverageValidationTime() = %v; want 200ms", avg)
	}
}

func TestMetrics_Cache(t *testing.T) {
	m := NewMetrics()
	if m.CacheHitRate() != 0 {
		t.Errorf("CacheHitRate() = %f; want 0", m.CacheHitRate())
	}

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheShared()

	if rate := m.CacheHitRate(); rate != 0.75 {
		t.Errorf("CacheHitRate() = %f; want 0.75", rate)
	}
	if m.CacheShared() != 1 {
		t.Errorf("CacheShared() = %d; want 1", m.CacheShared())
	}
}

func TestMetrics_Issues(t *testing.T) {
	m := NewMetrics()
	m.RecordIssue(SeverityError)
	m.RecordIssue(SeverityWarning)
	m.RecordIssue(SeverityWarning)
	m.RecordIssue(SeverityInformation)

	if m.ErrorsTotal() != 1 {
		t.Errorf("ErrorsTotal() = %d; want 1", m.ErrorsTotal())
	}
	if m.WarningsTotal() != 2 {
		t.Errorf("WarningsTotal() = %d; want 2", m.WarningsTotal())
	}
}

func TestMetrics_LayersInExecutionOrder(t *testing.T) {
	m := NewMetrics()
	m.RecordLayer(LayerBusinessRules, time.Millisecond, 1)
	m.RecordLayer(LayerStructural, time.Millisecond, 0)
	m.RecordLayer(LayerStructural, time.Millisecond, 2)

	stats := m.AllLayerStats()
	if len(stats) != 2 {
		t.Fatalf("len(AllLayerStats()) = %d; want 2", len(stats))
	}
	if stats[0].Layer != LayerStructural {
		t.Errorf("stats[0].Layer = %s; want %s", stats[0].Layer, LayerStructural)
	}
	if stats[0].Invocations != 2 || stats[0].IssuesFound != 2 {
		t.Errorf("structural stats = %+v; want 2 invocations, 2 issues", stats[0])
	}
}

func TestMetrics_Providers(t *testing.T) {
	m := NewMetrics()
	m.RecordProvider("beta", time.Millisecond, ProviderOK)
	m.RecordProvider("alpha", time.Millisecond, ProviderFailed)
	m.RecordProvider("alpha", time.Second, ProviderTimedOut)
	m.RecordSuggestion(true)
	m.RecordSuggestion(false)

	stats := m.AllProviderStats()
	if len(stats) != 2 || stats[0].Name != "alpha" {
		t.Fatalf("AllProviderStats() = %+v; want alpha first", stats)
	}
	if stats[0].Calls != 2 || stats[0].Failures != 1 || stats[0].Timeouts != 1 {
		t.Errorf("alpha stats = %+v", stats[0])
	}
	if m.SuggestionsTotal() != 2 || m.SuggestionsDegraded() != 1 {
		t.Errorf("suggestions = %d/%d; want 2/1", m.SuggestionsTotal(), m.SuggestionsDegraded())
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordValidation(time.Millisecond, true)
			m.RecordLayer(LayerProfile, time.Millisecond, 1)
			m.RecordFeedback(true)
		}()
	}
	wg.Wait()

	if m.ValidationsTotal() != 50 {
		t.Errorf("ValidationsTotal() = %d; want 50", m.ValidationsTotal())
	}
	if m.FeedbackRecorded() != 50 {
		t.Errorf("FeedbackRecorded() = %d; want 50", m.FeedbackRecorded())
	}
}

func TestMetrics_SnapshotAndReset(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(time.Millisecond, true)
	m.RecordCacheHit()
	m.RecordLayer(LayerTerminology, time.Millisecond, 1)

	s := m.Snapshot()
	if s.ValidationsTotal != 1 || s.CacheHits != 1 || len(s.Layers) != 1 {
		t.Errorf("Snapshot() = %+v", s)
	}

	m.Reset()
	s = m.Snapshot()
	if s.ValidationsTotal != 0 || s.CacheHits != 0 || len(s.Layers) != 0 {
		t.Errorf("Snapshot() after Reset = %+v", s)
	}
}
