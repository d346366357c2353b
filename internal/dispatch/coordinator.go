package dispatch

import (
	"context"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusFunc observes device presence changes. addr is the device's remote
// address while online and empty once the channel is torn down.
type StatusFunc func(deviceID, addr string)

// DefaultQueueCapacity is the per-device outbound queue size used when the
// coordinator is constructed with a non-positive capacity.
const DefaultQueueCapacity = 1000

// Coordinator owns the lifecycle of every device channel: registration on
// connect, queue hand-off to the per-device pump, and teardown on
// disconnect, error, or replacement.
//
// Invariants:
//   - At most one active channel per device ID. Registering a new channel
//     atomically replaces the old one; the old queue's contents are
//     discarded, never carried over to the new stream.
//   - Per-device outbound order is FIFO as enqueued.
//   - An Enqueue racing a replacement either lands in the old (soon
//     discarded) queue or fails with ErrChannelNotRegistered; it never
//     vanishes into neither.
//
// All methods are safe for concurrent use. Teardown is idempotent.
type Coordinator struct {
	mu        sync.RWMutex
	channels  map[string]*Channel
	regSignal chan struct{} // closed and replaced on every registration
	capacity  int
	logger    Logger

	obsMu     sync.RWMutex
	observers []StatusFunc
}

// NewCoordinator creates a coordinator whose device queues hold up to
// capacity pending messages each.
func NewCoordinator(capacity int) *Coordinator {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Coordinator{
		channels:  make(map[string]*Channel),
		regSignal: make(chan struct{}),
		capacity:  capacity,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// OnStatusChange registers an observer for device presence events.
// Observers are invoked synchronously and must not block.
func (c *Coordinator) OnStatusChange(fn StatusFunc) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// notifyStatus publishes a presence change to all observers.
func (c *Coordinator) notifyStatus(deviceID, addr string) {
	c.obsMu.RLock()
	observers := make([]StatusFunc, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(deviceID, addr)
	}
}

// RegisterChannel creates and stores a channel for the device's new stream,
// replacing any prior channel. Pending messages of the replaced channel are
// discarded: stale commands addressed to a dead stream must not reach a new
// stream instance without re-validation.
//
// Returns the new channel; the caller (the stream handler) passes it back to
// Unregister on teardown so a stale handler cannot tear down its successor.
func (c *Coordinator) RegisterChannel(deviceID string, stream Stream) *Channel {
	ch := newChannel(deviceID, stream, c.capacity)

	c.mu.Lock()
	old := c.channels[deviceID]
	c.channels[deviceID] = ch
	close(c.regSignal)
	c.regSignal = make(chan struct{})
	c.mu.Unlock()

	if old != nil {
		old.stop(reasonReplaced)
		old.drain()
		c.logger.Info("device channel replaced", "device_id", deviceID)
	} else {
		c.logger.Info("device channel registered", "device_id", deviceID, "addr", stream.RemoteAddr())
	}

	c.notifyStatus(deviceID, stream.RemoteAddr())
	return ch
}

// Unregister tears down a device's channel if ch is still the active one.
// A handler whose channel was already replaced only stops its own (dead)
// channel and does not publish an offline event, since the device is in
// fact online through its replacement. Safe to call more than once.
func (c *Coordinator) Unregister(deviceID string, ch *Channel) {
	c.mu.Lock()
	current := c.channels[deviceID] == ch
	if current {
		delete(c.channels, deviceID)
	}
	c.mu.Unlock()

	ch.stop(reasonStopped)
	ch.drain()

	if current {
		c.logger.Info("device channel unregistered", "device_id", deviceID)
		c.notifyStatus(deviceID, "")
	}
}

// Stop tears down the device's active channel, waking any blocked dequeuer
// and dropping pending messages. No-op for unknown devices.
func (c *Coordinator) Stop(deviceID string) {
	c.mu.Lock()
	ch := c.channels[deviceID]
	if ch != nil {
		delete(c.channels, deviceID)
	}
	c.mu.Unlock()

	if ch == nil {
		return
	}
	ch.stop(reasonStopped)
	ch.drain()
	c.logger.Info("device channel stopped", "device_id", deviceID)
	c.notifyStatus(deviceID, "")
}

// Clear drops all pending messages for a device without disturbing the
// channel or any blocked dequeuer. No-op for unknown devices.
func (c *Coordinator) Clear(deviceID string) {
	c.mu.RLock()
	ch := c.channels[deviceID]
	c.mu.RUnlock()

	if ch != nil {
		ch.drain()
	}
}

// Enqueue appends a deferred message producer to the device's outbound
// queue. Fails with ErrChannelNotRegistered when the device has no active
// channel and ErrQueueFull when the queue is at capacity; it never blocks
// the submitter.
func (c *Coordinator) Enqueue(deviceID string, fn MessageFunc) error {
	c.mu.RLock()
	ch := c.channels[deviceID]
	c.mu.RUnlock()

	if ch == nil {
		return ErrChannelNotRegistered
	}

	select {
	case <-ch.done:
		return ErrChannelNotRegistered
	case ch.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// DequeueBlocking returns the next pending message producer for the device,
// suspending the caller until one is available. It waits across "no channel
// yet": a dequeuer parked before registration resumes once a channel appears
// and a message is enqueued. Replacement is transparent; the dequeuer simply
// continues on the new channel's queue.
//
// Returns ErrChannelStopped if the channel is stopped while waiting, or the
// context error on cancellation.
func (c *Coordinator) DequeueBlocking(ctx context.Context, deviceID string) (MessageFunc, error) {
	for {
		c.mu.RLock()
		ch := c.channels[deviceID]
		regSignal := c.regSignal
		c.mu.RUnlock()

		if ch == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-regSignal:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case fn := <-ch.queue:
			return fn, nil
		case <-ch.done:
			if ch.reason == reasonStopped {
				return nil, ErrChannelStopped
			}
			// Replaced: loop around and pick up the new channel.
		}
	}
}

// Online reports whether the device currently has an active channel.
func (c *Coordinator) Online(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[deviceID]
	return ok
}

// Addr returns the remote address of the device's active stream, or empty
// if the device is offline.
func (c *Coordinator) Addr(deviceID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ch, ok := c.channels[deviceID]; ok {
		return ch.stream.RemoteAddr()
	}
	return ""
}

// OnlineDevices returns the IDs of all devices with an active channel,
// sorted for deterministic output.
func (c *Coordinator) OnlineDevices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.channels))
	for deviceID := range c.channels {
		out = append(out, deviceID)
	}
	sort.Strings(out)
	return out
}

// Stats returns coordinator statistics for monitoring.
type Stats struct {
	OnlineDevices  int `json:"online_devices"`
	PendingRecords int `json:"pending_messages"`
}

// GetStats returns current coordinator statistics.
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{OnlineDevices: len(c.channels)}
	for _, ch := range c.channels {
		stats.PendingRecords += ch.pending()
	}
	return stats
}
