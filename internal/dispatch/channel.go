package dispatch

import (
	"context"
	"sync"
)

// stopReason records why a channel's done signal fired.
type stopReason int

const (
	reasonNone stopReason = iota

	// reasonStopped: the device disconnected or the hub shut the channel
	// down. Blocked dequeuers return ErrChannelStopped.
	reasonStopped

	// reasonReplaced: a reconnecting device registered a new channel.
	// Blocked dequeuers move on to the replacement; the old queue's
	// contents are deliberately discarded.
	reasonReplaced
)

// Stream is the outbound leg of a device's bidirectional transport.
// The concrete implementation lives with the transport (WebSocket endpoint);
// the coordinator only needs to hand messages to it and to know the peer
// address for presence events.
type Stream interface {
	Send(msg ServerMessage) error
	RemoteAddr() string
}

// Channel pairs a device's live stream handle with its bounded FIFO of
// pending outbound messages. At most one Channel exists per device ID;
// registering a replacement discards the old Channel and its queue.
type Channel struct {
	deviceID string
	stream   Stream
	queue    chan MessageFunc

	done     chan struct{}
	stopOnce sync.Once
	reason   stopReason
}

func newChannel(deviceID string, stream Stream, capacity int) *Channel {
	return &Channel{
		deviceID: deviceID,
		stream:   stream,
		queue:    make(chan MessageFunc, capacity),
		done:     make(chan struct{}),
	}
}

// DeviceID returns the owning device's identifier.
func (ch *Channel) DeviceID() string {
	return ch.deviceID
}

// Stream returns the live stream handle for this channel.
func (ch *Channel) Stream() Stream {
	return ch.stream
}

// stop marks the channel dead with the given reason and wakes any blocked
// dequeuer. Safe to call multiple times; only the first reason sticks.
// The reason write is published by the channel close.
func (ch *Channel) stop(reason stopReason) {
	ch.stopOnce.Do(func() {
		ch.reason = reason
		close(ch.done)
	})
}

// drain empties the pending queue without blocking.
func (ch *Channel) drain() {
	for {
		select {
		case <-ch.queue:
		default:
			return
		}
	}
}

// pending returns the number of queued messages. Approximate under
// concurrent enqueue/dequeue; used for metrics only.
func (ch *Channel) pending() int {
	return len(ch.queue)
}

// Dequeue returns the next pending message producer for this specific
// channel, suspending the caller until one is available.
//
// Unlike Coordinator.DequeueBlocking, a replacement is NOT transparent
// here: this is the stream handler's pump, and a handler whose channel was
// replaced must stand down rather than drain its successor's queue.
// Returns ErrChannelStopped once the channel is dead for any reason, or
// the context error on cancellation.
func (ch *Channel) Dequeue(ctx context.Context) (MessageFunc, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case fn := <-ch.queue:
		return fn, nil
	case <-ch.done:
		return nil, ErrChannelStopped
	}
}
