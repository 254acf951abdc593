package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browserpool/pkg/engine"
)

const (
	// DefaultMaxBrowsers is the default cap on live browser instances.
	DefaultMaxBrowsers = 5

	// DefaultMaxContextsPerBrowser is the default context fan-out per
	// browser.
	DefaultMaxContextsPerBrowser = 10

	// DefaultAcquirePollInterval is the bounded wait on the availability
	// queue before considering growth.
	DefaultAcquirePollInterval = 100 * time.Millisecond
)

// Config configures a Pool.
type Config struct {
	// MaxBrowsers caps the number of live browser instances. Default: 5.
	MaxBrowsers int

	// MaxContextsPerBrowser caps the context fan-out per browser.
	// Default: 10.
	MaxContextsPerBrowser int

	// AcquirePollInterval is how long an acquirer waits on the
	// availability queue before checking whether it may grow the pool.
	// Default: 100ms.
	AcquirePollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBrowsers <= 0 {
		c.MaxBrowsers = DefaultMaxBrowsers
	}
	if c.MaxContextsPerBrowser <= 0 {
		c.MaxContextsPerBrowser = DefaultMaxContextsPerBrowser
	}
	if c.AcquirePollInterval <= 0 {
		c.AcquirePollInterval = DefaultAcquirePollInterval
	}
}

// instance tracks one browser and its context accounting. All fields other
// than browser are guarded by the pool mutex.
type instance struct {
	browser  engine.Browser
	contexts int
	queued   bool
}

// Pool owns a bounded set of browser instances and hands out leases binding
// a fresh context to a live browser.
//
// Structural mutations (registering or evicting a browser, adjusting a
// context count, queue membership) are serialized by a single mutex. Slow
// engine calls, browser launches excepted by reservation, run outside it.
type Pool struct {
	cfg      Config
	launcher engine.Launcher
	logger   *zap.Logger
	metrics  *metrics

	mu          sync.Mutex
	browsers    map[string]*instance
	available   chan *instance
	creating    int
	initialized bool
	closed      bool
}

// Option customizes a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics registers the pool's Prometheus collectors against reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metrics = newMetrics(reg) }
}

// New creates a browser pool. The pool is inert until Initialize or the
// first Acquire.
func New(cfg Config, launcher engine.Launcher, opts ...Option) *Pool {
	cfg.applyDefaults()

	p := &Pool{
		cfg:       cfg,
		launcher:  launcher,
		logger:    zap.NewNop(),
		browsers:  make(map[string]*instance),
		available: make(chan *instance, cfg.MaxBrowsers),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = newMetrics(nil)
	}
	return p
}

// Initialize creates the pool's first browser and marks it available.
// Idempotent; concurrent callers block on the pool mutex until the first
// creation completes, they never repeat it. The mutex is deliberately held
// across this one launch: initialization is a once-per-pool event and
// serializing it keeps the idempotence guarantee trivial.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.initialized {
		return nil
	}

	p.logger.Info("initializing browser pool",
		zap.Int("max_browsers", p.cfg.MaxBrowsers),
		zap.Int("max_contexts_per_browser", p.cfg.MaxContextsPerBrowser))

	inst, err := p.launch(ctx)
	if err != nil {
		return err
	}
	p.browsers[inst.browser.ID()] = inst
	p.enqueueLocked(inst)
	p.metrics.browsersLive.Inc()

	p.initialized = true
	p.logger.Info("browser pool initialized")
	return nil
}

// launch creates and starts one browser. Callers account for capacity.
func (p *Pool) launch(ctx context.Context) (*instance, error) {
	browser, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	if err := browser.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	p.metrics.browsersCreated.Inc()
	p.logger.Debug("created new browser instance", zap.String("browser", browser.ID()))
	return &instance{browser: browser}, nil
}

// Acquire returns a lease binding a fresh context to a live browser. It
// loops over the availability queue with a bounded wait, silently evicting
// disconnected browsers, and grows the pool when the queue stays empty and
// capacity allows. It fails fast with ErrClosed once shutdown has begun and
// honors ctx cancellation at every blocking point.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.metrics.acquireFailures.Inc()
			return nil, ErrClosed
		}
		p.mu.Unlock()

		inst, popped, err := p.waitAvailable(ctx)
		if err != nil {
			p.metrics.acquireFailures.Inc()
			return nil, err
		}

		if popped {
			if !inst.browser.IsConnected() {
				p.evict(inst)
				continue
			}

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				p.metrics.acquireFailures.Inc()
				return nil, ErrClosed
			}
			if inst.contexts < p.cfg.MaxContextsPerBrowser {
				inst.contexts++
				// Still under capacity: requeue so other acquirers can
				// share the remaining context slots.
				if inst.contexts < p.cfg.MaxContextsPerBrowser {
					p.enqueueLocked(inst)
				}
				p.mu.Unlock()
				return p.newLease(ctx, inst)
			}
			// At capacity: put it back for whoever releases first.
			p.enqueueLocked(inst)
			p.mu.Unlock()
			continue
		}

		// Queue wait timed out. Grow if capacity allows; the slot is
		// reserved under the mutex but the launch itself runs outside
		// it, so concurrent growth of different browsers proceeds in
		// parallel while live count never exceeds MaxBrowsers.
		p.mu.Lock()
		if len(p.browsers)+p.creating < p.cfg.MaxBrowsers {
			p.creating++
			p.mu.Unlock()

			inst, err := p.launch(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.mu.Unlock()
				p.metrics.acquireFailures.Inc()
				return nil, err
			}
			if p.closed {
				p.mu.Unlock()
				p.closeBrowser(context.WithoutCancel(ctx), inst)
				p.metrics.acquireFailures.Inc()
				return nil, ErrClosed
			}
			p.browsers[inst.browser.ID()] = inst
			inst.contexts++
			if inst.contexts < p.cfg.MaxContextsPerBrowser {
				p.enqueueLocked(inst)
			}
			p.mu.Unlock()
			p.metrics.browsersLive.Inc()
			return p.newLease(ctx, inst)
		}
		p.mu.Unlock()

		// At max capacity with nothing available: back off and retry.
		select {
		case <-ctx.Done():
			p.metrics.acquireFailures.Inc()
			return nil, ctx.Err()
		case <-time.After(p.cfg.AcquirePollInterval):
		}
	}
}

// waitAvailable pops a browser from the availability queue with a bounded
// wait. popped is false on timeout.
func (p *Pool) waitAvailable(ctx context.Context) (inst *instance, popped bool, err error) {
	timer := time.NewTimer(p.cfg.AcquirePollInterval)
	defer timer.Stop()

	select {
	case inst := <-p.available:
		p.mu.Lock()
		inst.queued = false
		p.mu.Unlock()
		return inst, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// newLease creates the context for a claimed instance. The claim is undone
// on failure so a cancelled or failed acquisition never leaks capacity.
func (p *Pool) newLease(ctx context.Context, inst *instance) (*Lease, error) {
	bc, err := inst.browser.NewContext(ctx)
	if err != nil {
		p.releaseInstance(inst)
		p.metrics.acquireFailures.Inc()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	p.metrics.acquisitions.Inc()
	p.metrics.contextsActive.Inc()
	p.logger.Debug("acquired context",
		zap.String("browser", inst.browser.ID()),
		zap.Int("contexts", p.contextCount(inst)))

	return &Lease{pool: p, inst: inst, browserCtx: bc}, nil
}

// releaseInstance decrements an instance's context count and requeues it
// when it is tracked, under capacity and not already queued. Every releaser
// re-checks capacity: a browser left outstanding at its limit is returned
// by whichever holder next drops it below the limit.
func (p *Pool) releaseInstance(inst *instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, tracked := p.browsers[inst.browser.ID()]; !tracked {
		return
	}
	inst.contexts--
	if inst.contexts < p.cfg.MaxContextsPerBrowser && !p.closed {
		p.enqueueLocked(inst)
	} else if inst.contexts >= p.cfg.MaxContextsPerBrowser {
		p.logger.Debug("browser at capacity", zap.Int("contexts", inst.contexts))
	}
}

// enqueueLocked puts an instance on the availability queue, preserving the
// invariant that a browser is queued at most once. Callers hold p.mu.
func (p *Pool) enqueueLocked(inst *instance) {
	if inst.queued {
		return
	}
	select {
	case p.available <- inst:
		inst.queued = true
	default:
		// Queue capacity equals MaxBrowsers and each browser is queued
		// at most once, so this cannot happen.
		p.logger.Error("availability queue full, dropping requeue",
			zap.String("browser", inst.browser.ID()))
	}
}

// evict removes a disconnected browser from the tracked set. The caller's
// acquisition loop continues; disconnection is never surfaced to acquirers.
func (p *Pool) evict(inst *instance) {
	p.mu.Lock()
	delete(p.browsers, inst.browser.ID())
	p.mu.Unlock()

	p.metrics.browsersEvicted.Inc()
	p.metrics.browsersLive.Dec()
	p.logger.Warn("evicted disconnected browser from pool",
		zap.String("browser", inst.browser.ID()))
}

func (p *Pool) contextCount(inst *instance) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return inst.contexts
}

func (p *Pool) closeBrowser(ctx context.Context, inst *instance) {
	if err := inst.browser.Close(ctx); err != nil {
		p.logger.Warn("error closing browser",
			zap.String("browser", inst.browser.ID()), zap.Error(err))
	}
}

// Shutdown closes every tracked browser and clears pool state. The shutdown
// flag is set first so in-flight acquisition loops fail fast, then browsers
// close concurrently and independently: one slow or broken browser never
// stalls the rest. Idempotent. Subsequent Acquire calls fail with ErrClosed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	instances := make([]*instance, 0, len(p.browsers))
	for _, inst := range p.browsers {
		instances = append(instances, inst)
	}
	p.mu.Unlock()

	p.logger.Info("shutting down browser pool", zap.Int("browsers", len(instances)))

	var g errgroup.Group
	for _, inst := range instances {
		g.Go(func() error {
			if err := inst.browser.Close(ctx); err != nil {
				p.logger.Warn("error closing browser during shutdown",
					zap.String("browser", inst.browser.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	p.mu.Lock()
	p.browsers = make(map[string]*instance)
drain:
	for {
		select {
		case <-p.available:
		default:
			break drain
		}
	}
	p.initialized = false
	p.mu.Unlock()
	p.metrics.browsersLive.Set(0)

	p.logger.Info("browser pool shutdown complete")
	return err
}

// Stats is a read-only snapshot of pool state.
type Stats struct {
	// TotalBrowsers is the number of tracked browser instances.
	TotalBrowsers int

	// AvailableBrowsers is the number currently queued as available.
	AvailableBrowsers int

	// ContextCounts maps browser ID to its live context count.
	ContextCounts map[string]int

	// MaxBrowsers and MaxContextsPerBrowser echo the configured maxima.
	MaxBrowsers           int
	MaxContextsPerBrowser int
}

// Stats returns a snapshot of the pool. Safe to call concurrently; never
// mutates state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[string]int, len(p.browsers))
	available := 0
	for id, inst := range p.browsers {
		counts[id] = inst.contexts
		if inst.queued {
			available++
		}
	}

	return Stats{
		TotalBrowsers:         len(p.browsers),
		AvailableBrowsers:     available,
		ContextCounts:         counts,
		MaxBrowsers:           p.cfg.MaxBrowsers,
		MaxContextsPerBrowser: p.cfg.MaxContextsPerBrowser,
	}
}
