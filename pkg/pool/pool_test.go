package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browserpool/pkg/engine"
)

// fakeBrowser is an in-memory engine.Browser for pool tests.
type fakeBrowser struct {
	id string

	// onConnCheck, when set, runs at the start of IsConnected, outside the
	// browser mutex so it may call back into the pool.
	onConnCheck func()
	// stayConnected forces IsConnected to true regardless of closed state.
	stayConnected bool

	mu           sync.Mutex
	started      bool
	disconnected bool
	closed       bool
	closeErr     error
	newCtxErr    error
	contexts     int
	maxContexts  int // high-water mark of concurrent contexts
}

func (b *fakeBrowser) ID() string { return b.id }

func (b *fakeBrowser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *fakeBrowser) IsConnected() bool {
	if b.onConnCheck != nil {
		b.onConnCheck()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stayConnected {
		return true
	}
	return b.started && !b.disconnected && !b.closed
}

func (b *fakeBrowser) NewContext(ctx context.Context) (engine.BrowserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newCtxErr != nil {
		return nil, b.newCtxErr
	}
	b.contexts++
	if b.contexts > b.maxContexts {
		b.maxContexts = b.contexts
	}
	return &fakeContext{browser: b}, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.closeErr
}

func (b *fakeBrowser) disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func (b *fakeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBrowser) highWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxContexts
}

type fakeContext struct {
	browser *fakeBrowser
	once    sync.Once
}

func (c *fakeContext) NewPage(ctx context.Context) (engine.Page, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeContext) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.browser.mu.Lock()
		c.browser.contexts--
		c.browser.mu.Unlock()
	})
	return nil
}

// fakeLauncher produces fakeBrowsers, optionally failing after a budget.
type fakeLauncher struct {
	mu        sync.Mutex
	launched  []*fakeBrowser
	launchErr error
	prep      func(*fakeBrowser)
}

func (l *fakeLauncher) Launch(ctx context.Context) (engine.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	b := &fakeBrowser{id: fmt.Sprintf("browser-%d", len(l.launched))}
	if l.prep != nil {
		l.prep(b)
	}
	l.launched = append(l.launched, b)
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) browser(i int) *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[i]
}

func newTestPool(cfg Config) (*Pool, *fakeLauncher) {
	launcher := &fakeLauncher{}
	// Fast polling keeps the acquisition loop tests snappy.
	if cfg.AcquirePollInterval == 0 {
		cfg.AcquirePollInterval = 5 * time.Millisecond
	}
	return New(cfg, launcher), launcher
}

func TestPool_Initialize_CreatesOneBrowser(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 3})

	require.NoError(t, p.Initialize(context.Background()))

	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalBrowsers)
	assert.Equal(t, 1, stats.AvailableBrowsers)
	assert.Equal(t, 1, launcher.count())
}

func TestPool_Initialize_Idempotent(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 3})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))

	assert.Equal(t, 1, launcher.count())
}

func TestPool_Initialize_ConcurrentCallersCreateOnce(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 5})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Initialize(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.count())
}

func TestPool_Acquire_InitializesOnDemand(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 2})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalBrowsers)
}

func TestPool_AcquireRelease_Accounting(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2, MaxContextsPerBrowser: 5})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalBrowsers)
	assert.Equal(t, 1, stats.ContextCounts[launcher.browser(0).ID()])

	lease.Release()

	stats = p.Stats()
	assert.Equal(t, 0, stats.ContextCounts[launcher.browser(0).ID()])
	assert.Equal(t, 1, stats.AvailableBrowsers)
}

func TestPool_Release_Idempotent(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	lease.Release()
	lease.Release()
	lease.Release()

	stats := p.Stats()
	assert.Equal(t, 0, stats.ContextCounts[launcher.browser(0).ID()])
}

func TestPool_Acquire_SharesBrowserUnderCapacity(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 3, MaxContextsPerBrowser: 4})
	ctx := context.Background()

	var leases []*Lease
	for i := 0; i < 4; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		leases = append(leases, lease)
	}

	// All four contexts fit on the first browser; no growth needed.
	assert.Equal(t, 1, launcher.count())
	assert.Equal(t, 4, p.Stats().ContextCounts[launcher.browser(0).ID()])

	for _, lease := range leases {
		lease.Release()
	}
}

func TestPool_Acquire_GrowsWhenBrowserFull(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease1, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer lease1.Release()
	defer lease2.Release()

	assert.Equal(t, 2, launcher.count())
	assert.Equal(t, 2, p.Stats().TotalBrowsers)
}

func TestPool_Acquire_BlocksAtMaxUntilRelease(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 1, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *Lease, 1)
	go func() {
		lease, err := p.Acquire(ctx)
		assert.NoError(t, err)
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatal("acquire must block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	lease1.Release()

	select {
	case lease := <-acquired:
		lease.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not observe the release")
	}
}

func TestPool_Acquire_ContextCancelled(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 1, MaxContextsPerBrowser: 1})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The failed acquisition must not leak capacity.
	stats := p.Stats()
	total := 0
	for _, n := range stats.ContextCounts {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestPool_Acquire_EvictsDisconnectedBrowser(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2, MaxContextsPerBrowser: 5})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	launcher.browser(0).disconnect()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	// The dead browser was evicted and a replacement created.
	assert.Equal(t, 2, launcher.count())
	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalBrowsers)
	assert.NotContains(t, stats.ContextCounts, launcher.browser(0).ID())
}

func TestPool_Acquire_StartupFailurePropagates(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	launcher.mu.Lock()
	launcher.launchErr = fmt.Errorf("%w: no executable", engine.ErrStartup)
	launcher.mu.Unlock()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, engine.ErrStartup)
}

func TestPool_Acquire_NewContextFailureReleasesClaim(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 1, MaxContextsPerBrowser: 2})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	b := launcher.browser(0)
	b.mu.Lock()
	b.newCtxErr = errors.New("context limit")
	b.mu.Unlock()

	_, err := p.Acquire(ctx)
	require.Error(t, err)

	// The claim was undone and the browser requeued.
	stats := p.Stats()
	assert.Equal(t, 0, stats.ContextCounts[b.ID()])
	assert.Equal(t, 1, stats.AvailableBrowsers)

	b.mu.Lock()
	b.newCtxErr = nil
	b.mu.Unlock()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
}

func TestPool_CapacityInvariantsUnderConcurrency(t *testing.T) {
	const (
		maxBrowsers = 3
		maxContexts = 4
		workers     = 20
		iterations  = 25
	)

	p, launcher := newTestPool(Config{
		MaxBrowsers:           maxBrowsers,
		MaxContextsPerBrowser: maxContexts,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lease, err := p.Acquire(ctx)
				if !assert.NoError(t, err) {
					return
				}
				time.Sleep(time.Millisecond)
				lease.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, launcher.count(), maxBrowsers,
		"live browsers must never exceed MaxBrowsers")
	for i := 0; i < launcher.count(); i++ {
		assert.LessOrEqual(t, launcher.browser(i).highWater(), maxContexts,
			"browser %d exceeded its context capacity", i)
	}

	stats := p.Stats()
	for id, n := range stats.ContextCounts {
		assert.Zero(t, n, "browser %s has leaked contexts", id)
	}
}

func TestPool_Shutdown_ClosesAllBrowsers(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 3, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease1, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease1.Release()
	lease2.Release()

	require.NoError(t, p.Shutdown(ctx))

	for i := 0; i < launcher.count(); i++ {
		assert.True(t, launcher.browser(i).isClosed(), "browser %d not closed", i)
	}
	assert.Equal(t, 0, p.Stats().TotalBrowsers)
}

func TestPool_Shutdown_OneFailureDoesNotBlockOthers(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 3, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease1, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease1.Release()
	lease2.Release()

	require.Equal(t, 2, launcher.count())
	b := launcher.browser(0)
	b.mu.Lock()
	b.closeErr = errors.New("close failed")
	b.mu.Unlock()

	err = p.Shutdown(ctx)
	assert.Error(t, err)

	// Every browser saw Close despite the failure.
	for i := 0; i < launcher.count(); i++ {
		assert.True(t, launcher.browser(i).isClosed())
	}
}

func TestPool_Shutdown_Idempotent(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 2})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))
}

func TestPool_AcquireAfterShutdownFails(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 2})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Shutdown(ctx))

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_AcquireDuringShutdownFailsFast(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 1, MaxContextsPerBrowser: 1})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	// This acquirer is stuck polling an exhausted pool.
	result := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Shutdown(ctx))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight acquire did not observe shutdown")
	}

	lease.Release()
}

func TestPool_Acquire_ShutdownBetweenPopAndClaim(t *testing.T) {
	p, launcher := newTestPool(Config{MaxBrowsers: 2, MaxContextsPerBrowser: 2})
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))

	// Shut the pool down from inside the connectivity check, after the
	// acquirer has popped the browser but before it claims a context. The
	// browser keeps reporting connected so only the closed flag can stop
	// the handout.
	b := launcher.browser(0)
	b.mu.Lock()
	b.stayConnected = true
	b.mu.Unlock()
	var once sync.Once
	b.onConnCheck = func() {
		once.Do(func() {
			assert.NoError(t, p.Shutdown(ctx))
		})
	}

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_Stats_Snapshot(t *testing.T) {
	p, _ := newTestPool(Config{MaxBrowsers: 7, MaxContextsPerBrowser: 3})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	stats := p.Stats()
	assert.Equal(t, 7, stats.MaxBrowsers)
	assert.Equal(t, 3, stats.MaxContextsPerBrowser)
	assert.Equal(t, 1, stats.TotalBrowsers)
	assert.Len(t, stats.ContextCounts, 1)
}
