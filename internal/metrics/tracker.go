package metrics

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/fincore/llmgate/internal/cache"
)

// Record is a single LLM call observation.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	UseCase      string    `json:"use_case,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMS    float64   `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Cost         float64   `json:"cost"`
	CacheHit     bool      `json:"cache_hit"`
}

// Filter selects a subset of records for aggregate queries.
// Zero-value fields match everything.
type Filter struct {
	Provider string
	UseCase  string
	Since    time.Time
	Until    time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.UseCase != "" && r.UseCase != f.UseCase {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// LatencyStats summarizes call latency in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// Summary is a full usage report. Cache holds the response cache
// counters and is filled in by the caller that owns the cache.
type Summary struct {
	TotalRequests  int                `json:"total_requests"`
	TotalCost      float64            `json:"total_cost"`
	InputTokens    int64              `json:"input_tokens"`
	OutputTokens   int64              `json:"output_tokens"`
	SuccessRate    float64            `json:"success_rate"`
	CacheHits      int                `json:"cache_hits"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
	CostByUseCase  map[string]float64 `json:"cost_by_use_case"`
	Latency        LatencyStats       `json:"latency"`
	Cache          cache.Stats        `json:"cache"`
}

// TrackerConfig holds configuration for the usage tracker.
type TrackerConfig struct {
	// FilePath is the JSONL sink. Empty means in-memory only.
	FilePath string
	Logger   *slog.Logger
}

// Tracker records every call attempt and answers aggregate queries.
//
// Records are held in memory and appended to a JSONL file when one is
// configured. Recording never fails the caller: sink errors are logged
// and the in-memory record is kept regardless.
type Tracker struct {
	mu      sync.Mutex
	records []Record
	file    *os.File
	logger  *slog.Logger
}

// NewTracker creates a tracker, loading any existing records from the
// configured JSONL file. Lines that fail to decode are skipped.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker{logger: cfg.Logger}

	if cfg.FilePath == "" {
		return t, nil
	}

	if err := t.loadFile(cfg.FilePath); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	t.file = file

	return t, nil
}

func (t *Tracker) loadFile(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			t.logger.Warn("skipping corrupt metrics line", "error", err)
			continue
		}
		t.records = append(t.records, rec)
	}
	return scanner.Err()
}

// Record stores a call observation and mirrors it to Prometheus.
func (t *Tracker) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	if t.file != nil {
		if data, err := json.Marshal(rec); err == nil {
			if _, err := t.file.Write(append(data, '\n')); err != nil {
				t.logger.Warn("metrics file append failed", "error", err)
			}
		}
	}
	t.mu.Unlock()

	outcome := "success"
	if !rec.Success {
		outcome = rec.ErrorKind
		if outcome == "" {
			outcome = "error"
		}
	}
	RequestsTotal.WithLabelValues(rec.Provider, rec.Model, rec.UseCase, outcome).Inc()

	if rec.CacheHit {
		CacheHits.WithLabelValues(rec.Provider).Inc()
		return
	}
	// Cache misses are counted where the lookup happens; a record here
	// may be a rejection that never consulted the cache.

	RequestLatency.WithLabelValues(rec.Provider, rec.Model).Observe(rec.LatencyMS / 1000.0)
	InputTokens.WithLabelValues(rec.Provider, rec.Model).Add(float64(rec.InputTokens))
	OutputTokens.WithLabelValues(rec.Provider, rec.Model).Add(float64(rec.OutputTokens))
	SpendTotal.WithLabelValues(rec.Provider, rec.Model).Add(rec.Cost)
}

// TotalCost sums the cost of all records matching the filter.
func (t *Tracker) TotalCost(f Filter) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, r := range t.records {
		if f.matches(r) {
			total += r.Cost
		}
	}
	return total
}

// CostByProvider returns total cost grouped by provider.
func (t *Tracker) CostByProvider() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Provider] += r.Cost
	}
	return out
}

// CostByUseCase returns total cost grouped by use case.
func (t *Tracker) CostByUseCase() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.UseCase] += r.Cost
	}
	return out
}

// TokenTotals returns total input and output tokens matching the filter.
func (t *Tracker) TokenTotals(f Filter) (inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.records {
		if f.matches(r) {
			inputTokens += int64(r.InputTokens)
			outputTokens += int64(r.OutputTokens)
		}
	}
	return inputTokens, outputTokens
}

// LatencyStats computes latency percentiles over records matching the
// filter. Cache hits are excluded since they never touched a provider.
//
// Small samples make tail percentiles meaningless, so p95 falls back to
// the maximum below 20 samples and p99 below 100.
func (t *Tracker) LatencyStats(f Filter) LatencyStats {
	t.mu.Lock()
	latencies := make([]float64, 0, len(t.records))
	var sum float64
	for _, r := range t.records {
		if !f.matches(r) || r.CacheHit {
			continue
		}
		latencies = append(latencies, r.LatencyMS)
		sum += r.LatencyMS
	}
	t.mu.Unlock()

	n := len(latencies)
	if n == 0 {
		return LatencyStats{}
	}

	sort.Float64s(latencies)
	maxLatency := latencies[n-1]

	stats := LatencyStats{
		Count: n,
		Mean:  sum / float64(n),
		P50:   latencies[n/2],
		P95:   maxLatency,
		P99:   maxLatency,
		Max:   maxLatency,
	}
	if n > 20 {
		stats.P95 = latencies[int(float64(n)*0.95)]
	}
	if n > 100 {
		stats.P99 = latencies[int(float64(n)*0.99)]
	}
	return stats
}

// SuccessRate returns the fraction of matching records that succeeded.
// Returns 1 when there are no matching records.
func (t *Tracker) SuccessRate(f Filter) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total, ok int
	for _, r := range t.records {
		if f.matches(r) {
			total++
			if r.Success {
				ok++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// Summarize builds a full usage report over records matching the filter.
func (t *Tracker) Summarize(f Filter) Summary {
	t.mu.Lock()
	var matched []Record
	for _, r := range t.records {
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	t.mu.Unlock()

	summary := Summary{
		CostByProvider: make(map[string]float64),
		CostByUseCase:  make(map[string]float64),
	}

	var ok int
	for _, r := range matched {
		summary.TotalRequests++
		summary.TotalCost += r.Cost
		summary.InputTokens += int64(r.InputTokens)
		summary.OutputTokens += int64(r.OutputTokens)
		summary.CostByProvider[r.Provider] += r.Cost
		summary.CostByUseCase[r.UseCase] += r.Cost
		if r.Success {
			ok++
		}
		if r.CacheHit {
			summary.CacheHits++
		}
	}
	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(ok) / float64(summary.TotalRequests)
	} else {
		summary.SuccessRate = 1
	}
	summary.Latency = t.LatencyStats(f)

	return summary
}

// Count returns the number of records held in memory.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// ExportJSON writes all records matching the filter as a JSON array.
func (t *Tracker) ExportJSON(w io.Writer, f Filter) error {
	t.mu.Lock()
	matched := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	t.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(matched)
}

// Close flushes and closes the JSONL sink.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
