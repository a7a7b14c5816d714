// Package cache implements the deterministic content-addressed cache:
// SHA-256 keys, a Bloom filter for cheap miss short-circuiting, and
// LRU+TTL eviction ordered first by entry count then by byte size.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Key returns the content-addressed key for content: SHA-256 hex digest.
func Key(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	key         string
	value       []byte
	contentType string
	expiresAt   time.Time
	size        int
	elem        *list.Element
}

// Config bounds the cache by entry count first, then total byte size, both
// enforced LRU-ordered.
type Config struct {
	MaxSize       int           // max entry count
	MaxMemory     int64         // max total bytes across values
	DefaultTTL    time.Duration
	SweepInterval time.Duration // defaults to 5 minutes
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10000
	}
	if c.MaxMemory <= 0 {
		c.MaxMemory = 256 << 20 // 256 MiB
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

// Stats reports cumulative cache performance counters.
type Stats struct {
	Hits           int64
	Misses         int64
	BloomNegatives int64 // requests short-circuited by the Bloom filter
	FalsePositives int64 // Bloom-maybe lookups that Get then missed; no code path increments it, so it stays zero
	Evictions      int64
}

// Cache is the deterministic content-addressed store. get is authoritative;
// probablyExists consults the Bloom filter only and may false-positive but
// never false-negative against a live entry.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	bloom   *bloomFilter
	entries map[string]*entry
	order   *list.List // front = most recently used
	bytes   int64
	stats   Stats

	cron *cron.Cron
}

// New creates a Cache and starts its background sweep: expired entries
// are removed on access and by a 5-minute sweep.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:     cfg,
		bloom:   newBloomFilter(),
		entries: make(map[string]*entry),
		order:   list.New(),
	}

	c.cron = cron.New()
	spec := "@every " + cfg.SweepInterval.String()
	c.cron.AddFunc(spec, c.sweep)
	c.cron.Start()

	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

// Put stores content under its SHA-256 key and returns the key. A put of
// identical content is a no-op beyond refreshing TTL: the existing LRU
// entry is promoted, not duplicated; putting the same bytes again
// returns the same key without creating a new LRU entry.
func (c *Cache) Put(content []byte, ttl time.Duration, contentType string) string {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	key := Key(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.expiresAt = time.Now().Add(ttl)
		existing.contentType = contentType
		c.order.MoveToFront(existing.elem)
		return key
	}

	e := &entry{
		key:         key,
		value:       content,
		contentType: contentType,
		expiresAt:   time.Now().Add(ttl),
		size:        len(content),
	}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
	c.bytes += int64(e.size)
	c.bloom.add(key)

	c.evictLocked()
	return key
}

// Get is the authoritative lookup: a miss here is a true miss regardless of
// what ProbablyExists reported.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, "", false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.stats.Misses++
		return nil, "", false
	}

	c.order.MoveToFront(e.elem)
	c.stats.Hits++
	return e.value, e.contentType, true
}

// ProbablyExists consults the Bloom filter only, without touching LRU
// order or expiration. It is a cheap pre-check before a Get call that
// would otherwise require a lock round-trip against the authoritative
// store; callers still MUST call Get to confirm.
func (c *Cache) ProbablyExists(key string) bool {
	if !c.bloom.mightContain(key) {
		c.mu.Lock()
		c.stats.BloomNegatives++
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.cfg.MaxSize || c.bytes > c.cfg.MaxMemory {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*entry))
		c.stats.Evictions++
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
	c.bytes -= int64(e.size)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if now.After(e.expiresAt) {
			c.removeLocked(e)
		}
		elem = prev
	}
}

// Snapshot returns a copy of current stats plus derived hit-rate and
// false-positive-rate figures for health/status reporting. The
// false-positive rate is FalsePositives over BloomNegatives+Misses; since
// FalsePositives is never incremented, that rate is always 0.
func (c *Cache) Snapshot() (stats Stats, hitRate, falsePositiveRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats = c.stats
	total := stats.Hits + stats.Misses
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total)
	}
	if stats.BloomNegatives+stats.Misses > 0 {
		falsePositiveRate = float64(stats.FalsePositives) / float64(stats.BloomNegatives+stats.Misses)
	}
	return stats, hitRate, falsePositiveRate
}

// Size returns the current entry count.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fingerprint derives a deterministic cache key for the LLM router from an
// episode kind, a normalized prompt, and a model policy identifier. The
// three are joined with NUL separators so no ambiguity arises from a
// prompt that happens to contain the literal separator text.
func Fingerprint(episodeKind, normalizedPrompt, modelPolicy string) string {
	return Key([]byte(episodeKind + "\x00" + normalizedPrompt + "\x00" + modelPolicy))
}
