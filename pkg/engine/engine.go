package engine

import (
	"context"
	"errors"
	"time"
)

// ErrStartup indicates the underlying browser process could not be launched.
// It is fatal to the acquisition attempt that triggered the launch, not to
// the pool that requested it.
var ErrStartup = errors.New("engine: browser startup failed")

// Browser is a heavyweight automation instance (one browser process).
//
// Implementations must make Close safe to call more than once and safe to
// call on a browser that never started.
type Browser interface {
	// ID uniquely identifies this browser instance.
	ID() string

	// Start launches the underlying browser process. Errors wrap ErrStartup.
	Start(ctx context.Context) error

	// IsConnected reports whether the browser process is still reachable.
	// A browser that never started reports false.
	IsConnected() bool

	// NewContext creates an isolated session scoped to this browser.
	NewContext(ctx context.Context) (BrowserContext, error)

	// Close shuts the browser process down. Idempotent.
	Close(ctx context.Context) error
}

// BrowserContext is a lightweight isolated session owned by one Browser.
// It never outlives its browser.
type BrowserContext interface {
	// NewPage opens a page in this context.
	NewPage(ctx context.Context) (Page, error)

	// Close tears the context down. Idempotent.
	Close(ctx context.Context) error
}

// Page is a single page handle within a context.
type Page interface {
	// ID uniquely identifies this page for cache keying.
	ID() string

	// URL returns the page's current URL.
	URL() string

	// IsClosed reports whether the page has been closed.
	IsClosed() bool

	// Evaluate runs a JavaScript expression and returns its result. The
	// call is bounded by ctx; on expiry the result is discarded.
	Evaluate(ctx context.Context, expression string) (any, error)

	// WaitForLoad waits up to timeout for the DOM content to finish
	// loading. Returns an error on timeout; callers decide whether that
	// is fatal.
	WaitForLoad(ctx context.Context, timeout time.Duration) error
}

// Launcher produces unstarted Browser instances. The pool calls Launch when
// it decides to grow; the returned browser is not usable until Start
// succeeds.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
