package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChannelDequeueDeliversPending(t *testing.T) {
	c := NewCoordinator(10)
	ch := c.RegisterChannel("dev-1", newFakeStream("10.0.0.1:1"))

	if err := c.Enqueue("dev-1", command("c1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fn, err := ch.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	msg, err := fn()
	if err != nil {
		t.Fatalf("thunk: %v", err)
	}
	if msg.Command.Name != "c1" {
		t.Errorf("expected c1, got %s", msg.Command.Name)
	}
}

func TestChannelDequeueStopped(t *testing.T) {
	c := NewCoordinator(10)
	ch := c.RegisterChannel("dev-1", newFakeStream("10.0.0.1:1"))
	c.Stop("dev-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ch.Dequeue(ctx); !errors.Is(err, ErrChannelStopped) {
		t.Fatalf("expected ErrChannelStopped, got %v", err)
	}
}

// A channel's own Dequeue fails once a replacement registers: the old
// handler's pump must stand down instead of draining the successor's queue.
func TestChannelDequeueNotReplacementTransparent(t *testing.T) {
	c := NewCoordinator(10)
	old := c.RegisterChannel("dev-1", newFakeStream("10.0.0.1:1"))
	c.RegisterChannel("dev-1", newFakeStream("10.0.0.2:2"))

	if err := c.Enqueue("dev-1", command("for-successor")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := old.Dequeue(ctx); !errors.Is(err, ErrChannelStopped) {
		t.Fatalf("expected ErrChannelStopped on replaced channel, got %v", err)
	}

	// The successor's queue still holds the message.
	if got := dequeueName(t, c, "dev-1"); got != "for-successor" {
		t.Errorf("expected for-successor, got %s", got)
	}
}

func TestChannelDequeueContextCancel(t *testing.T) {
	c := NewCoordinator(10)
	ch := c.RegisterChannel("dev-1", newFakeStream("10.0.0.1:1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ch.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
