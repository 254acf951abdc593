package health

import (
	"context"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/engine"
)

// PageSession is the slice of a browsing session the recoverer needs: the
// current page and the ability to replace it with a fresh one on the same
// context. pool.Lease satisfies it.
type PageSession interface {
	// Page returns the session's current page, or nil if none is open.
	Page() engine.Page

	// ReplacePage opens a fresh page on the same context and makes it
	// current.
	ReplacePage(ctx context.Context) (engine.Page, error)
}

// Recoverer wraps operations with a health check and a single recovery
// attempt. It composes under resilience.Retry so that an unhealthy page is
// replaced before every retry attempt, not only the first.
type Recoverer struct {
	checker *Checker
	logger  *zap.Logger
}

// NewRecoverer creates a recoverer around the given checker.
func NewRecoverer(checker *Checker, logger *zap.Logger) *Recoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{checker: checker, logger: logger}
}

// Run checks the session's current page and, if it is unhealthy, attempts
// exactly one page replacement before invoking op. The operation always
// runs: recovery failure is logged, not surfaced, because the operation
// itself is the final arbiter of failure.
func (r *Recoverer) Run(ctx context.Context, session PageSession, op func(context.Context) error) error {
	page := session.Page()
	if !r.checker.IsPageHealthy(ctx, page) {
		r.logger.Warn("page unhealthy before operation, attempting recovery")

		if page != nil {
			r.checker.Invalidate(page)
		}
		if _, err := session.ReplacePage(ctx); err != nil {
			r.logger.Error("page recovery failed, running operation anyway", zap.Error(err))
		} else {
			r.logger.Info("created replacement page for recovery")
		}
	}

	return op(ctx)
}
