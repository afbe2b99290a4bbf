package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
}

func newMemTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(TrackerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func sampleRecord(provider, useCase string, cost, latencyMS float64) Record {
	return Record{
		Provider:     provider,
		Model:        "test-model",
		UseCase:      useCase,
		InputTokens:  100,
		OutputTokens: 50,
		LatencyMS:    latencyMS,
		Success:      true,
		Cost:         cost,
	}
}

func TestTrackerTotalCost(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "extraction", 0.01, 500))
	tr.Record(sampleRecord("anthropic", "chat", 0.02, 600))
	tr.Record(sampleRecord("openai", "chat", 0.05, 700))

	assert.InDelta(t, 0.08, tr.TotalCost(Filter{}), 1e-9)
	assert.InDelta(t, 0.03, tr.TotalCost(Filter{Provider: "anthropic"}), 1e-9)
	assert.InDelta(t, 0.07, tr.TotalCost(Filter{UseCase: "chat"}), 1e-9)
}

func TestTrackerCostGroupings(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "extraction", 0.01, 500))
	tr.Record(sampleRecord("anthropic", "chat", 0.02, 600))
	tr.Record(sampleRecord("openai", "chat", 0.05, 700))

	byProvider := tr.CostByProvider()
	assert.InDelta(t, 0.03, byProvider["anthropic"], 1e-9)
	assert.InDelta(t, 0.05, byProvider["openai"], 1e-9)

	byUseCase := tr.CostByUseCase()
	assert.InDelta(t, 0.01, byUseCase["extraction"], 1e-9)
	assert.InDelta(t, 0.07, byUseCase["chat"], 1e-9)
}

func TestTrackerTimeFilter(t *testing.T) {
	tr := newMemTracker(t)

	old := sampleRecord("anthropic", "chat", 0.01, 500)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	tr.Record(old)
	tr.Record(sampleRecord("anthropic", "chat", 0.02, 500))

	recent := tr.TotalCost(Filter{Since: time.Now().Add(-time.Hour)})
	assert.InDelta(t, 0.02, recent, 1e-9)

	older := tr.TotalCost(Filter{Until: time.Now().Add(-time.Hour)})
	assert.InDelta(t, 0.01, older, 1e-9)
}

func TestTrackerLatencyStatsSmallSample(t *testing.T) {
	tr := newMemTracker(t)

	for _, ms := range []float64{100, 200, 300, 400, 500} {
		tr.Record(sampleRecord("anthropic", "chat", 0, ms))
	}

	stats := tr.LatencyStats(Filter{})
	assert.Equal(t, 5, stats.Count)
	assert.InDelta(t, 300, stats.Mean, 1e-9)
	assert.InDelta(t, 300, stats.P50, 1e-9)
	// Below 20 samples the tail percentiles fall back to the max
	assert.InDelta(t, 500, stats.P95, 1e-9)
	assert.InDelta(t, 500, stats.P99, 1e-9)
	assert.InDelta(t, 500, stats.Max, 1e-9)
}

func TestTrackerLatencyStatsLargeSample(t *testing.T) {
	tr := newMemTracker(t)

	for i := 1; i <= 200; i++ {
		tr.Record(sampleRecord("anthropic", "chat", 0, float64(i)))
	}

	stats := tr.LatencyStats(Filter{})
	assert.Equal(t, 200, stats.Count)
	assert.InDelta(t, 191, stats.P95, 1.0)
	assert.InDelta(t, 199, stats.P99, 1.0)
	assert.InDelta(t, 200, stats.Max, 1e-9)
}

func TestTrackerLatencyExcludesCacheHits(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "chat", 0, 500))

	hit := sampleRecord("anthropic", "chat", 0, 0)
	hit.CacheHit = true
	tr.Record(hit)

	stats := tr.LatencyStats(Filter{})
	assert.Equal(t, 1, stats.Count, "cache hits never touched a provider")
}

func TestTrackerLatencyStatsEmpty(t *testing.T) {
	tr := newMemTracker(t)
	assert.Equal(t, LatencyStats{}, tr.LatencyStats(Filter{}))
}

func TestTrackerSuccessRate(t *testing.T) {
	tr := newMemTracker(t)

	assert.Equal(t, 1.0, tr.SuccessRate(Filter{}), "no data means no failures")

	tr.Record(sampleRecord("anthropic", "chat", 0, 100))
	tr.Record(sampleRecord("anthropic", "chat", 0, 100))

	failed := sampleRecord("anthropic", "chat", 0, 100)
	failed.Success = false
	failed.ErrorKind = "transient"
	tr.Record(failed)

	assert.InDelta(t, 2.0/3.0, tr.SuccessRate(Filter{}), 1e-9)
}

func TestTrackerSummarize(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "extraction", 0.01, 500))
	tr.Record(sampleRecord("openai", "chat", 0.05, 700))

	hit := sampleRecord("anthropic", "extraction", 0, 0)
	hit.CacheHit = true
	tr.Record(hit)

	s := tr.Summarize(Filter{})
	assert.Equal(t, 3, s.TotalRequests)
	assert.InDelta(t, 0.06, s.TotalCost, 1e-9)
	assert.Equal(t, 1, s.CacheHits)
	assert.EqualValues(t, 300, s.InputTokens)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.InDelta(t, 0.01, s.CostByProvider["anthropic"], 1e-9)
}

func TestTrackerPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")

	tr, err := NewTracker(TrackerConfig{FilePath: path})
	require.NoError(t, err)
	tr.Record(sampleRecord("anthropic", "chat", 0.01, 100))
	tr.Record(sampleRecord("openai", "chat", 0.02, 200))
	require.NoError(t, tr.Close())

	tr2, err := NewTracker(TrackerConfig{FilePath: path})
	require.NoError(t, err)
	defer tr2.Close()

	assert.Equal(t, 2, tr2.Count())
	assert.InDelta(t, 0.03, tr2.TotalCost(Filter{}), 1e-9)

	// Appending after reload keeps prior records
	tr2.Record(sampleRecord("anthropic", "chat", 0.04, 100))
	assert.InDelta(t, 0.07, tr2.TotalCost(Filter{}), 1e-9)
}

func TestTrackerExportJSON(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "chat", 0.01, 100))
	tr.Record(sampleRecord("openai", "summary", 0.02, 200))

	var buf bytes.Buffer
	require.NoError(t, tr.ExportJSON(&buf, Filter{Provider: "openai"}))

	var out []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "openai", out[0].Provider)
	assert.Equal(t, "summary", out[0].UseCase)
}

func TestTrackerAssignsTimestamp(t *testing.T) {
	tr := newMemTracker(t)

	tr.Record(sampleRecord("anthropic", "chat", 0.01, 100))

	var buf bytes.Buffer
	require.NoError(t, tr.ExportJSON(&buf, Filter{}))

	var out []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.False(t, out[0].Timestamp.IsZero())
}

func TestTrackerSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")

	tr, err := NewTracker(TrackerConfig{FilePath: path})
	require.NoError(t, err)
	tr.Record(sampleRecord("anthropic", "chat", 0.01, 100))
	require.NoError(t, tr.Close())

	// Corrupt the file with a partial line
	f, err := openAppend(path)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tr2, err := NewTracker(TrackerConfig{FilePath: path})
	require.NoError(t, err)
	defer tr2.Close()

	assert.Equal(t, 1, tr2.Count())
}

func TestTrackerTokenTotals(t *testing.T) {
	tr := newMemTracker(t)

	for i := 0; i < 3; i++ {
		tr.Record(sampleRecord("anthropic", "chat", 0, float64(100+i)))
	}

	in, out := tr.TokenTotals(Filter{})
	assert.EqualValues(t, 300, in)
	assert.EqualValues(t, 150, out)
}

func TestFilterMatches(t *testing.T) {
	rec := sampleRecord("anthropic", "chat", 0, 100)
	rec.Timestamp = time.Now()

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"provider match", Filter{Provider: "anthropic"}, true},
		{"provider mismatch", Filter{Provider: "openai"}, false},
		{"use case match", Filter{UseCase: "chat"}, true},
		{"use case mismatch", Filter{UseCase: "summary"}, false},
		{"since future", Filter{Since: time.Now().Add(time.Hour)}, false},
		{"until past", Filter{Until: time.Now().Add(-time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.matches(rec), fmt.Sprintf("filter %+v", tt.filter))
		})
	}
}
