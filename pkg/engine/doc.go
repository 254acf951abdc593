// Package engine defines the contract between the pool and the underlying
// browser automation engine, together with a Playwright-backed
// implementation.
//
// The pool and its guards treat browsers, contexts and pages as opaque
// handles: they only need lifecycle operations (Start, Close), a
// connectivity probe (IsConnected) and a cheap round-trip (Evaluate) to
// judge health. Tests substitute in-memory fakes; production code uses
// NewPlaywrightLauncher.
package engine
