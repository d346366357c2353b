package edge

import (
	"context"
	"sync"

	"github.com/fieldgrid/dispatch-core/internal/dispatch"
)

// NotificationFunc produces a device-to-hub message lazily at send time,
// mirroring the hub side's deferred message construction: timestamps and
// durations are computed when the stream writer actually sends, not when
// the notification was raised.
type NotificationFunc func() (dispatch.DeviceMessage, error)

// NotifyQueue is a single-consumer hand-off queue between notification
// producers and the one active outbound stream writer.
//
// If a consumer is parked when a notification is produced, the notification
// is handed to it directly and never queued; otherwise it is appended to
// the internal FIFO.
//
// Contract: at most one Consume may be outstanding at a time. This is a
// single-consumer primitive; concurrent consumers are a caller bug and the
// behaviour is unspecified. Producers may be concurrent.
type NotifyQueue struct {
	mu     sync.Mutex
	items  []NotificationFunc
	waiter chan NotificationFunc // non-nil while a consumer is parked; cap 1
}

// NewNotifyQueue creates an empty notify queue.
func NewNotifyQueue() *NotifyQueue {
	return &NotifyQueue{}
}

// Produce hands a notification to the parked consumer if there is one,
// otherwise appends it to the FIFO.
func (q *NotifyQueue) Produce(fn NotificationFunc) {
	q.mu.Lock()
	if q.waiter != nil {
		w := q.waiter
		q.waiter = nil
		q.mu.Unlock()
		w <- fn // cap 1, never blocks
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

// Consume returns the next notification, suspending the caller until one is
// produced. Returns ErrQueueStopped if Stop cancels the wait, or the
// context error on cancellation.
func (q *NotifyQueue) Consume(ctx context.Context) (NotificationFunc, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return fn, nil
	}

	w := make(chan NotificationFunc, 1)
	q.waiter = w
	q.mu.Unlock()

	select {
	case fn, ok := <-w:
		if !ok {
			return nil, ErrQueueStopped
		}
		return fn, nil
	case <-ctx.Done():
		// Retract the waiter unless Produce or Stop already claimed it.
		q.mu.Lock()
		if q.waiter == w {
			q.waiter = nil
		}
		q.mu.Unlock()
		// A Produce may have won the race before retraction; drain it so
		// the notification is not lost.
		select {
		case fn, ok := <-w:
			if ok {
				q.mu.Lock()
				q.items = append([]NotificationFunc{fn}, q.items...)
				q.mu.Unlock()
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Stop cancels the outstanding waiter, if any, without disturbing
// queued-but-undelivered items. Safe to call when no consumer is parked.
func (q *NotifyQueue) Stop() {
	q.mu.Lock()
	if q.waiter != nil {
		close(q.waiter)
		q.waiter = nil
	}
	q.mu.Unlock()
}

// Clear empties the FIFO without affecting a parked waiter.
func (q *NotifyQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len returns the number of queued (undelivered) notifications.
func (q *NotifyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
