// Package pool manages a bounded set of long-lived browser instances, each
// hosting multiple isolated contexts, under concurrent demand.
//
// Callers acquire a Lease, which binds one fresh context to a live browser,
// and release it when done:
//
//	lease, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
// The pool owns all structural state: browser creation is the overflow
// valve up to MaxBrowsers, disconnected browsers are silently evicted on
// the next acquisition cycle, and capacity bounds hold at every externally
// observable point. Fairness between concurrent acquirers is best-effort.
package pool
