package pool

import "errors"

// ErrClosed is returned when an acquisition is attempted during or after
// shutdown. The pool is not reusable once shut down.
var ErrClosed = errors.New("pool: browser pool is closed")
