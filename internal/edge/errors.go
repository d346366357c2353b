package edge

import "errors"

// Domain errors for the edge package.
var (
	// ErrQueueStopped is returned from Consume when Stop cancels the
	// outstanding waiter. The pump loop treats this as a cooperative
	// shutdown signal, not a failure.
	ErrQueueStopped = errors.New("edge: notify queue stopped")
)
