// Package domcache caches extracted DOM snapshots so repeated extractions
// of the same page state within a short window skip the expensive
// JavaScript round-trip. It is a standalone layer keyed by page identity
// and extraction parameters, with no dependency on the pool.
package domcache
