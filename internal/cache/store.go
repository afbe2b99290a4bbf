// Package cache provides response caching for LLM calls.
// Identical requests within a TTL window are served from memory instead of
// being re-sent to a provider, with hybrid LRU + TTL eviction and optional
// persistence to disk or Redis.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pricer computes the cost of a call from its token counts.
type Pricer interface {
	Calculate(provider, model string, inputTokens, outputTokens int) float64
}

// Entry is a single cached response with the metadata needed for
// eviction decisions and savings accounting.
type Entry struct {
	Fingerprint  string    `json:"fingerprint"`
	Text         string    `json:"text"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Hits         int64     `json:"hits"`
}

// Stats holds cumulative cache counters. Counters survive Clear.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Entries     int     `json:"entries"`
	TokensSaved int64   `json:"tokens_saved"`
	CostSaved   float64 `json:"cost_saved"`
	HitRate     float64 `json:"hit_rate"`
}

// Config holds configuration for the Store.
type Config struct {
	MaxEntries int           // Maximum number of entries (default: 1000)
	TTL        time.Duration // Entry lifetime from creation (default: 1 hour)
	Pricer     Pricer        // Optional, enables cost-saved accounting
	Persister  Persister     // Optional, mirrors entries to durable storage
	Logger     *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		TTL:        time.Hour,
	}
}

// Store is an in-memory response cache with hybrid LRU + TTL eviction.
//
// TTL bounds staleness: an entry older than the TTL is dead no matter how
// recently it was read. LRU bounds memory: at capacity the least recently
// used entry is evicted first. Expiry is evaluated lazily at lookup time;
// there is no background sweeper.
type Store struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List // front = most recently used

	maxEntries int
	ttl        time.Duration
	pricer     Pricer
	persister  Persister
	logger     *slog.Logger

	hits        int64
	misses      int64
	evictions   int64
	tokensSaved int64
	costSaved   float64
}

// NewStore creates a response cache from the given config.
func NewStore(cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		entries:    make(map[string]*list.Element),
		recency:    list.New(),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		pricer:     cfg.Pricer,
		persister:  cfg.Persister,
		logger:     cfg.Logger,
	}
}

// Lookup returns the cached entry for the fingerprint, or nil on a miss.
// An expired entry is removed and counted as both a miss and an eviction.
// A hit refreshes recency and accumulates savings counters.
func (s *Store) Lookup(ctx context.Context, fingerprint string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[fingerprint]
	if !ok {
		s.misses++
		return nil
	}

	entry := elem.Value.(*Entry)
	if time.Since(entry.CreatedAt) > s.ttl {
		s.removeLocked(ctx, elem, entry)
		s.misses++
		s.evictions++
		return nil
	}

	entry.LastAccessed = time.Now()
	entry.Hits++
	s.recency.MoveToFront(elem)

	s.hits++
	s.tokensSaved += int64(entry.InputTokens + entry.OutputTokens)
	if s.pricer != nil {
		s.costSaved += s.pricer.Calculate(entry.Provider, entry.Model, entry.InputTokens, entry.OutputTokens)
	}

	return entry
}

// Store inserts or overwrites a cached response. At capacity the least
// recently used entry is evicted before insertion. Entries are inserted
// at the front, so among never-read entries the oldest is evicted first.
func (s *Store) Store(ctx context.Context, entry *Entry) {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.LastAccessed = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[entry.Fingerprint]; ok {
		elem.Value = entry
		s.recency.MoveToFront(elem)
		s.persist(ctx, entry)
		return
	}

	for len(s.entries) >= s.maxEntries {
		s.evictOldestLocked(ctx)
	}

	s.entries[entry.Fingerprint] = s.recency.PushFront(entry)
	s.persist(ctx, entry)
}

// Clear removes all entries. Cumulative counters are preserved so that
// savings reporting survives an operational flush.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.recency.Init()

	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			s.logger.Warn("cache persistence clear failed", "error", err)
		}
	}
}

// Sweep removes all expired entries and returns how many were dropped.
// Optional; the cache is correct without it since expiry is checked at
// lookup. Useful for callers that want to bound memory between lookups.
func (s *Store) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for elem := s.recency.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*Entry)
		if time.Since(entry.CreatedAt) > s.ttl {
			s.removeLocked(ctx, elem, entry)
			s.evictions++
			removed++
		}
		elem = prev
	}
	return removed
}

// LoadPersisted restores entries from the persistence backend, discarding
// any that expired while the process was down. Returns how many were loaded.
func (s *Store) LoadPersisted(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}

	entries, err := s.persister.Load(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var loaded int
	for _, entry := range entries {
		if time.Since(entry.CreatedAt) > s.ttl {
			continue
		}
		if _, ok := s.entries[entry.Fingerprint]; ok {
			continue
		}
		if len(s.entries) >= s.maxEntries {
			break
		}
		s.entries[entry.Fingerprint] = s.recency.PushBack(entry)
		loaded++
	}
	return loaded, nil
}

// Stats returns a snapshot of the cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}

	return Stats{
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Entries:     len(s.entries),
		TokensSaved: s.tokensSaved,
		CostSaved:   s.costSaved,
		HitRate:     hitRate,
	}
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close releases the persistence backend, if any.
func (s *Store) Close() error {
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}

func (s *Store) evictOldestLocked(ctx context.Context) {
	elem := s.recency.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*Entry)
	s.removeLocked(ctx, elem, entry)
	s.evictions++
}

func (s *Store) removeLocked(ctx context.Context, elem *list.Element, entry *Entry) {
	s.recency.Remove(elem)
	delete(s.entries, entry.Fingerprint)

	if s.persister != nil {
		if err := s.persister.Delete(ctx, entry.Fingerprint); err != nil {
			s.logger.Warn("cache persistence delete failed",
				"fingerprint", entry.Fingerprint, "error", err)
		}
	}
}

func (s *Store) persist(ctx context.Context, entry *Entry) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, entry); err != nil {
		s.logger.Warn("cache persistence save failed",
			"fingerprint", entry.Fingerprint, "error", err)
	}
}
