package dispatch

import "errors"

// Domain errors for the dispatch package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, dispatch.ErrChannelNotRegistered) {
//	    // device is offline; surface to the caller
//	}
var (
	// ErrChannelNotRegistered is returned when a command is submitted for a
	// device that has no active channel. Callers surface this to the
	// requester rather than silently dropping the command.
	ErrChannelNotRegistered = errors.New("dispatch: channel not registered")

	// ErrQueueFull is returned when a device's outbound queue is at capacity.
	// The submitter is never blocked; it must decide whether to retry.
	ErrQueueFull = errors.New("dispatch: outbound queue full")

	// ErrChannelStopped is returned from a blocking dequeue when the
	// device's channel was stopped while the caller was waiting.
	ErrChannelStopped = errors.New("dispatch: channel stopped")
)
