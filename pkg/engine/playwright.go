package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// LaunchOptions configures browsers produced by PlaywrightLauncher.
type LaunchOptions struct {
	// Headless controls whether browsers run without a visible window.
	Headless bool

	// Viewport sets the viewport size for new contexts.
	Viewport *Viewport
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// PlaywrightLauncher launches Chromium browsers through Playwright. One
// launcher owns one Playwright driver instance shared by every browser it
// produces.
type PlaywrightLauncher struct {
	mu   sync.Mutex
	pw   *playwright.Playwright
	opts LaunchOptions
}

// NewPlaywrightLauncher installs and starts the Playwright driver. Driver
// output is discarded so it cannot interfere with the host application's
// terminal.
func NewPlaywrightLauncher(opts LaunchOptions) (*PlaywrightLauncher, error) {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightLauncher{pw: pw, opts: opts}, nil
}

// Launch returns a new, unstarted Chromium browser handle.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Browser, error) {
	return &playwrightBrowser{
		id:       uuid.NewString(),
		launcher: l,
	}, nil
}

// Stop shuts the Playwright driver down. Browsers launched by this launcher
// must be closed first.
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	l.pw = nil
	return nil
}

type playwrightBrowser struct {
	id       string
	launcher *PlaywrightLauncher

	mu      sync.Mutex
	browser playwright.Browser
	closed  bool
}

func (b *playwrightBrowser) ID() string { return b.id }

func (b *playwrightBrowser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return nil
	}

	headless := b.launcher.opts.Headless
	browser, err := b.launcher.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	b.browser = browser
	return nil
}

func (b *playwrightBrowser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil || b.closed {
		return false
	}
	return b.browser.IsConnected()
}

func (b *playwrightBrowser) NewContext(ctx context.Context) (BrowserContext, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()

	if browser == nil {
		return nil, fmt.Errorf("browser %s not started", b.id)
	}

	opts := playwright.BrowserNewContextOptions{}
	if vp := b.launcher.opts.Viewport; vp != nil {
		opts.Viewport = &playwright.Size{Width: vp.Width, Height: vp.Height}
	}

	bc, err := browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &playwrightContext{ctx: bc}, nil
}

func (b *playwrightBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil || b.closed {
		return nil
	}
	b.closed = true
	if err := b.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type playwrightContext struct {
	mu     sync.Mutex
	ctx    playwright.BrowserContext
	closed bool
}

func (c *playwrightContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{id: uuid.NewString(), page: page}, nil
}

func (c *playwrightContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.ctx.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

type playwrightPage struct {
	id   string
	page playwright.Page
}

func (p *playwrightPage) ID() string { return p.id }

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) IsClosed() bool { return p.page.IsClosed() }

// Evaluate runs the expression on the page. Playwright calls are not
// cancellable mid-flight, so the call runs in its own goroutine and the
// result is abandoned if ctx expires first.
func (p *playwrightPage) Evaluate(ctx context.Context, expression string) (any, error) {
	type evalResult struct {
		value any
		err   error
	}

	done := make(chan evalResult, 1)
	go func() {
		value, err := p.page.Evaluate(expression)
		done <- evalResult{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.value, res.err
	}
}

func (p *playwrightPage) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	state := playwright.LoadStateDomcontentloaded
	ms := float64(timeout.Milliseconds())
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   state,
		Timeout: &ms,
	})
}
