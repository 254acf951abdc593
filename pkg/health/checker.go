package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/engine"
)

const (
	// DefaultProbeTimeout bounds a single liveness probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultCacheTTL is how long a probe verdict stays trusted.
	DefaultCacheTTL = 2 * time.Second
)

// probeExpression is the trivial round-trip evaluated against the page.
const probeExpression = "1 + 1"

// CheckerConfig configures a Checker.
type CheckerConfig struct {
	// ProbeTimeout bounds the evaluate round-trip. Default: 5s.
	ProbeTimeout time.Duration

	// CacheTTL is the trust window for cached verdicts. Default: 2s.
	CacheTTL time.Duration
}

type cacheEntry struct {
	healthy   bool
	timestamp time.Time
}

// Checker probes page liveness with a TTL-memoized cache keyed by page
// identity. The checker does not own the pages it tracks: the page's owner
// must call Invalidate when a page navigates, closes or is replaced, and
// stale entries are simply never trusted again.
type Checker struct {
	probeTimeout time.Duration
	cacheTTL     time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewChecker creates a health checker, applying defaults for zero-valued
// config fields.
func NewChecker(config CheckerConfig, logger *zap.Logger) *Checker {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Checker{
		probeTimeout: config.ProbeTimeout,
		cacheTTL:     config.CacheTTL,
		logger:       logger,
		now:          time.Now,
		cache:        make(map[string]cacheEntry),
	}
}

// IsPageHealthy reports whether the page is alive and responsive. A verdict
// cached within the TTL is returned without re-probing; otherwise the page
// is probed with a bounded JavaScript round-trip. Probe failures and
// timeouts collapse to false, never to an error.
func (c *Checker) IsPageHealthy(ctx context.Context, page engine.Page) bool {
	if page == nil {
		return false
	}

	key := page.ID()

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.timestamp) < c.cacheTTL {
		return entry.healthy
	}

	healthy := c.probe(ctx, page)

	c.mu.Lock()
	c.cache[key] = cacheEntry{healthy: healthy, timestamp: c.now()}
	c.mu.Unlock()

	return healthy
}

func (c *Checker) probe(ctx context.Context, page engine.Page) bool {
	if page.IsClosed() {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	result, err := page.Evaluate(probeCtx, probeExpression)
	if err != nil {
		c.logger.Debug("health probe failed", zap.String("page", page.ID()), zap.Error(err))
		return false
	}

	return probeResultOK(result)
}

// probeResultOK accepts any numeric 2: engines may decode JavaScript
// numbers as int or float64.
func probeResultOK(result any) bool {
	switch v := result.(type) {
	case int:
		return v == 2
	case int64:
		return v == 2
	case float64:
		return v == 2
	default:
		return false
	}
}

// EnsurePageReady waits for the page's DOM content to finish loading. A
// timeout degrades to a warning so a slow page never blocks the caller's
// operation.
func (c *Checker) EnsurePageReady(ctx context.Context, page engine.Page) {
	if err := page.WaitForLoad(ctx, c.probeTimeout); err != nil {
		c.logger.Warn("page load wait timed out, continuing anyway",
			zap.String("page", page.ID()), zap.Error(err))
	}
}

// Invalidate drops the cached verdict for a page. Owners call this on
// navigation, closure or replacement.
func (c *Checker) Invalidate(page engine.Page) {
	if page == nil {
		return
	}
	c.mu.Lock()
	delete(c.cache, page.ID())
	c.mu.Unlock()
}

// InvalidateAll drops every cached verdict.
func (c *Checker) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}
