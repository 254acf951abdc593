// Package health guards browser operations against dead or unresponsive
// pages.
//
// Checker answers "is this page alive?" with a short-lived per-page cache so
// repeated operations within the TTL window share one probe. Recoverer
// composes the check with a single page-replacement attempt around an
// operation; stacking it under resilience.Retry makes the recovery run on
// every attempt.
//
// Health never surfaces as an error: a failed or timed-out probe collapses
// to an unhealthy verdict and the wrapped operation remains the final
// arbiter of failure.
package health
