package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPricer struct {
	perToken float64
}

func (p fixedPricer) Calculate(provider, model string, inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) * p.perToken
}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s := NewStore(cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntry(fingerprint string) *Entry {
	return &Entry{
		Fingerprint:  fingerprint,
		Text:         "response for " + fingerprint,
		Provider:     "anthropic",
		Model:        "claude-3-haiku-20240307",
		InputTokens:  100,
		OutputTokens: 50,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour})

	s.Store(ctx, testEntry("fp1"))

	got := s.Lookup(ctx, "fp1")
	require.NotNil(t, got)
	assert.Equal(t, "response for fp1", got.Text)
	assert.EqualValues(t, 1, got.Hits)

	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 0, stats.Misses)
	assert.EqualValues(t, 150, stats.TokensSaved)
}

func TestStoreMiss(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour})

	assert.Nil(t, s.Lookup(ctx, "absent"))

	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 0, stats.Hits)
}

func TestStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: 20 * time.Millisecond})

	s.Store(ctx, testEntry("fp1"))
	require.NotNil(t, s.Lookup(ctx, "fp1"))

	time.Sleep(30 * time.Millisecond)

	assert.Nil(t, s.Lookup(ctx, "fp1"), "expired entry must be a miss")

	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Evictions)
	assert.Equal(t, 0, stats.Entries)
}

func TestStoreTTLIgnoresRecency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: 50 * time.Millisecond})

	s.Store(ctx, testEntry("fp1"))

	// Repeated reads must not extend the lifetime
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		require.NotNil(t, s.Lookup(ctx, "fp1"))
	}
	time.Sleep(30 * time.Millisecond)

	assert.Nil(t, s.Lookup(ctx, "fp1"), "TTL runs from creation, not last access")
}

func TestStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 3, TTL: time.Hour})

	s.Store(ctx, testEntry("fp1"))
	s.Store(ctx, testEntry("fp2"))
	s.Store(ctx, testEntry("fp3"))

	// Touch fp1 so fp2 becomes least recently used
	require.NotNil(t, s.Lookup(ctx, "fp1"))

	s.Store(ctx, testEntry("fp4"))

	assert.Nil(t, s.Lookup(ctx, "fp2"), "least recently used entry should be evicted")
	assert.NotNil(t, s.Lookup(ctx, "fp1"))
	assert.NotNil(t, s.Lookup(ctx, "fp3"))
	assert.NotNil(t, s.Lookup(ctx, "fp4"))

	assert.EqualValues(t, 1, s.Stats().Evictions)
}

func TestStoreEvictsOldestInsertedWhenNeverRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 2, TTL: time.Hour})

	s.Store(ctx, testEntry("first"))
	s.Store(ctx, testEntry("second"))
	s.Store(ctx, testEntry("third"))

	assert.Nil(t, s.Lookup(ctx, "first"))
	assert.NotNil(t, s.Lookup(ctx, "second"))
	assert.NotNil(t, s.Lookup(ctx, "third"))
}

func TestStoreOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 2, TTL: time.Hour})

	s.Store(ctx, testEntry("fp1"))
	s.Store(ctx, testEntry("fp2"))

	updated := testEntry("fp1")
	updated.Text = "updated"
	s.Store(ctx, updated)

	assert.Equal(t, 2, s.Len())
	assert.EqualValues(t, 0, s.Stats().Evictions)

	got := s.Lookup(ctx, "fp1")
	require.NotNil(t, got)
	assert.Equal(t, "updated", got.Text)
}

func TestStoreClearKeepsCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour})

	s.Store(ctx, testEntry("fp1"))
	require.NotNil(t, s.Lookup(ctx, "fp1"))

	s.Clear(ctx)

	assert.Equal(t, 0, s.Len())
	stats := s.Stats()
	assert.EqualValues(t, 1, stats.Hits, "counters must survive Clear")
	assert.EqualValues(t, 150, stats.TokensSaved)
}

func TestStoreCostSaved(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{
		MaxEntries: 10,
		TTL:        time.Hour,
		Pricer:     fixedPricer{perToken: 0.001},
	})

	s.Store(ctx, testEntry("fp1"))
	require.NotNil(t, s.Lookup(ctx, "fp1"))
	require.NotNil(t, s.Lookup(ctx, "fp1"))

	assert.InDelta(t, 0.3, s.Stats().CostSaved, 1e-9)
}

func TestStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: 20 * time.Millisecond})

	for i := 0; i < 5; i++ {
		s.Store(ctx, testEntry(fmt.Sprintf("fp%d", i)))
	}
	time.Sleep(30 * time.Millisecond)
	s.Store(ctx, testEntry("fresh"))

	removed := s.Sweep(ctx)

	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, s.Len())
}

func TestStoreHitRate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour})

	s.Store(ctx, testEntry("fp1"))
	s.Lookup(ctx, "fp1")
	s.Lookup(ctx, "fp1")
	s.Lookup(ctx, "absent")

	assert.InDelta(t, 2.0/3.0, s.Stats().HitRate, 1e-9)
}

func TestDiskPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	persister, err := NewDiskPersister(dir)
	require.NoError(t, err)

	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour, Persister: persister})
	s.Store(ctx, testEntry("fp1"))
	s.Store(ctx, testEntry("fp2"))

	// A fresh store warms from the same directory
	persister2, err := NewDiskPersister(dir)
	require.NoError(t, err)
	s2 := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour, Persister: persister2})

	loaded, err := s2.LoadPersisted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.NotNil(t, s2.Lookup(ctx, "fp1"))
	assert.NotNil(t, s2.Lookup(ctx, "fp2"))
}

func TestDiskPersistenceDropsExpired(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	persister, err := NewDiskPersister(dir)
	require.NoError(t, err)

	stale := testEntry("stale")
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, persister.Save(ctx, stale))

	fresh := testEntry("fresh")
	fresh.CreatedAt = time.Now()
	require.NoError(t, persister.Save(ctx, fresh))

	s := newTestStore(t, Config{MaxEntries: 10, TTL: time.Hour, Persister: persister})
	loaded, err := s.LoadPersisted(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, loaded)
	assert.NotNil(t, s.Lookup(ctx, "fresh"))
	assert.Nil(t, s.Lookup(ctx, "stale"))
}

func TestDiskPersisterDeleteMissing(t *testing.T) {
	persister, err := NewDiskPersister(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, persister.Delete(context.Background(), "never-stored"))
}
