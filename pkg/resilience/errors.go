package resilience

import "errors"

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without invoking the guarded operation.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")
