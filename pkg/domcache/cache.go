package domcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/engine"
)

const (
	// DefaultTTL is how long a snapshot stays valid.
	DefaultTTL = 2 * time.Second

	// DefaultMaxSize caps the number of cached snapshots.
	DefaultMaxSize = 100
)

// Params are the extraction parameters that shape a snapshot. Two requests
// with different params never share a cache entry.
type Params struct {
	HighlightElements bool
	FocusElement      int
	ViewportExpansion int
}

// Config configures a Cache.
type Config struct {
	// TTL is the snapshot trust window. Default: 2s.
	TTL time.Duration

	// MaxSize caps the entry count; the least recently used entry is
	// evicted on overflow. Default: 100.
	MaxSize int
}

type entry struct {
	snapshot  any
	timestamp time.Time
	pageID    string
}

// Cache memoizes extracted DOM snapshots keyed by page URL plus extraction
// parameters, with TTL expiry and LRU eviction. It is independent of the
// pool: the owner of each page's lifecycle calls InvalidatePage at the
// point of navigation or closure.
type Cache struct {
	ttl     time.Duration
	maxSize int
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	order   []string
	// pageKeys maps page identity to the cache keys it produced, so one
	// invalidation call drops everything the page contributed.
	pageKeys map[string]map[string]struct{}
}

// New creates a snapshot cache, applying defaults for zero-valued config
// fields.
func New(config Config, logger *zap.Logger) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		ttl:      config.TTL,
		maxSize:  config.MaxSize,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]entry),
		pageKeys: make(map[string]map[string]struct{}),
	}
}

// key derives the cache key from the page URL and extraction parameters,
// so navigation naturally misses the old entries.
func key(pageURL string, params Params) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%t|%d|%d",
		pageURL, params.HighlightElements, params.FocusElement, params.ViewportExpansion))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached snapshot for the page and params, or false on miss
// or expiry. Expired entries are dropped on the spot.
func (c *Cache) Get(page engine.Page, params Params) (any, bool) {
	k := key(page.URL(), params)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.timestamp) > c.ttl {
		c.deleteLocked(k)
		return nil, false
	}

	c.touchLocked(k)
	return e.snapshot, true
}

// Put stores a snapshot, evicting the least recently used entry when the
// cache is full.
func (c *Cache) Put(page engine.Page, params Params, snapshot any) {
	k := key(page.URL(), params)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxSize {
		oldest := c.order[0]
		c.deleteLocked(oldest)
		c.logger.Debug("evicted oldest snapshot", zap.String("key", oldest[:8]))
	}

	c.entries[k] = entry{snapshot: snapshot, timestamp: c.now(), pageID: page.ID()}
	c.touchLocked(k)

	keys, ok := c.pageKeys[page.ID()]
	if !ok {
		keys = make(map[string]struct{})
		c.pageKeys[page.ID()] = keys
	}
	keys[k] = struct{}{}
}

// InvalidatePage drops every entry the page contributed. The page's owner
// calls this on navigation or closure.
func (c *Cache) InvalidatePage(page engine.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.pageKeys[page.ID()] {
		c.deleteLocked(k)
	}
	delete(c.pageKeys, page.ID())
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.order = nil
	c.pageKeys = make(map[string]map[string]struct{})
}

// Stats is a read-only snapshot of cache state.
type Stats struct {
	Size         int
	MaxSize      int
	TTL          time.Duration
	PagesTracked int
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:         len(c.entries),
		MaxSize:      c.maxSize,
		TTL:          c.ttl,
		PagesTracked: len(c.pageKeys),
	}
}

// deleteLocked removes an entry, its LRU slot and its page-index reference.
// Callers hold c.mu.
func (c *Cache) deleteLocked(k string) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	delete(c.entries, k)
	for i, existing := range c.order {
		if existing == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	if keys, ok := c.pageKeys[e.pageID]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.pageKeys, e.pageID)
		}
	}
}

// touchLocked moves a key to the most recently used position. Callers hold
// c.mu.
func (c *Cache) touchLocked(k string) {
	for i, existing := range c.order {
		if existing == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, k)
}
