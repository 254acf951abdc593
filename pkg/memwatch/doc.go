// Package memwatch provides a process memory watchdog. Long-lived browser
// workloads accumulate droppable state in caches; the watcher samples
// resident memory on an interval and triggers registered cleanup callbacks
// when usage crosses configured thresholds.
package memwatch
