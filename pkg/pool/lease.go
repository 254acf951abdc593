package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/engine"
)

// Lease is a scoped acquisition: one fresh browser context bound to a live
// browser instance. The holder must call Release on every exit path;
// Release is idempotent, so deferring it is always safe.
type Lease struct {
	pool       *Pool
	inst       *instance
	browserCtx engine.BrowserContext

	mu       sync.Mutex
	page     engine.Page
	released bool
}

// Browser returns the browser instance backing this lease.
func (l *Lease) Browser() engine.Browser {
	return l.inst.browser
}

// Context returns the leased browser context.
func (l *Lease) Context() engine.BrowserContext {
	return l.browserCtx
}

// Page returns the lease's current page, or nil before the first NewPage.
func (l *Lease) Page() engine.Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}

// NewPage opens a page on the leased context and makes it current.
func (l *Lease) NewPage(ctx context.Context) (engine.Page, error) {
	page, err := l.browserCtx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	l.mu.Lock()
	l.page = page
	l.mu.Unlock()
	return page, nil
}

// ReplacePage opens a fresh page on the same context and makes it current.
// The previous page is abandoned: replacement exists to recover from a page
// that is already dead. Satisfies health.PageSession.
func (l *Lease) ReplacePage(ctx context.Context) (engine.Page, error) {
	return l.NewPage(ctx)
}

// Release tears the leased context down and returns the browser to the
// pool's availability queue if it is still under capacity. Idempotent.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	if err := l.browserCtx.Close(context.Background()); err != nil {
		l.pool.logger.Warn("error closing context",
			zap.String("browser", l.inst.browser.ID()), zap.Error(err))
	}

	l.pool.releaseInstance(l.inst)
	l.pool.metrics.contextsActive.Dec()
}
