package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/fieldgrid/dispatch-core/internal/registry"
)

// fakeTransport records pushes and can fail for selected connections.
type fakeTransport struct {
	mu      sync.Mutex
	pushes  map[string][]string // connection ID -> methods received
	failFor map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pushes:  make(map[string][]string),
		failFor: make(map[string]bool),
	}
}

func (f *fakeTransport) SendToConnection(connectionID, method string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[connectionID] {
		return errors.New("connection closed")
	}
	f.pushes[connectionID] = append(f.pushes[connectionID], method)
	return nil
}

func (f *fakeTransport) received(connectionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[connectionID]
}

func TestGroupName(t *testing.T) {
	tests := []struct {
		kind Kind
		id   string
		want string
	}{
		{KindDevice, "42", "Device_42"},
		{KindSensor, "7", "Sensor_7"},
	}
	for _, tt := range tests {
		if got := GroupName(tt.kind, tt.id); got != tt.want {
			t.Errorf("GroupName(%s, %s) = %s, want %s", tt.kind, tt.id, got, tt.want)
		}
	}
}

// A push to one device's group reaches exactly its subscribers and nobody
// subscribed only to another group.
func TestPushForEntityGroupIsolation(t *testing.T) {
	reg := registry.New()
	reg.RegisterClient("user-1", "conn-1")
	reg.RegisterClient("user-2", "conn-2")
	reg.Subscribe("conn-1", "Device_7")
	reg.Subscribe("conn-2", "Device_2")

	transport := newFakeTransport()
	b := New(reg, transport)

	delivered := b.PushForEntity(KindDevice, "7", "X", "msg")
	if delivered != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", delivered)
	}
	if got := transport.received("conn-1"); len(got) != 1 || got[0] != "X" {
		t.Errorf("conn-1 expected one X push, got %v", got)
	}
	if got := transport.received("conn-2"); len(got) != 0 {
		t.Errorf("conn-2 subscribed to Device_2 must receive nothing, got %v", got)
	}
}

// One dead connection must not abort delivery to its siblings.
func TestPushToGroupFailureIsolation(t *testing.T) {
	reg := registry.New()
	reg.RegisterClient("user-1", "conn-1")
	reg.RegisterClient("user-1", "conn-2")
	reg.RegisterClient("user-2", "conn-3")
	for _, id := range []string{"conn-1", "conn-2", "conn-3"} {
		reg.Subscribe(id, "Device_1")
	}

	transport := newFakeTransport()
	transport.failFor["conn-2"] = true
	b := New(reg, transport)

	delivered := b.PushToGroup("Device_1", "Notify", nil)
	if delivered != 2 {
		t.Errorf("expected 2 successful deliveries, got %d", delivered)
	}
	if got := transport.received("conn-1"); len(got) != 1 {
		t.Errorf("conn-1 should have received the push despite conn-2 failing")
	}
	if got := transport.received("conn-3"); len(got) != 1 {
		t.Errorf("conn-3 should have received the push despite conn-2 failing")
	}
}

func TestPushToGroupEmptyGroup(t *testing.T) {
	b := New(registry.New(), newFakeTransport())
	if delivered := b.PushToGroup("Device_none", "Notify", nil); delivered != 0 {
		t.Errorf("expected 0 deliveries for empty group, got %d", delivered)
	}
}

func TestPushToConnection(t *testing.T) {
	reg := registry.New()
	transport := newFakeTransport()
	b := New(reg, transport)

	if ok := b.PushToConnection("conn-1", "ClientMessage", map[string]string{"text": "done"}); !ok {
		t.Error("expected push to succeed")
	}
	if got := transport.received("conn-1"); len(got) != 1 || got[0] != "ClientMessage" {
		t.Errorf("expected ClientMessage push, got %v", got)
	}

	transport.failFor["conn-2"] = true
	if ok := b.PushToConnection("conn-2", "ClientMessage", nil); ok {
		t.Error("expected push to report failure")
	}
}
