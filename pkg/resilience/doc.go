// Package resilience provides the retry and circuit breaker primitives that
// bound failure propagation around browser operations.
//
// The two patterns compose explicitly at the call-site:
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  time.Minute,
//	}, logger)
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxRetries:   3,
//	    InitialDelay: 500 * time.Millisecond,
//	}, logger)
//
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return cb.Execute(ctx, operation)
//	})
//
// Neither primitive ever rewrites the operation's error: callers see the
// original failure, or ErrCircuitOpen when the breaker refused to invoke the
// operation at all.
package resilience
