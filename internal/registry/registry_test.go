package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterAndFindByConnection(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")

	conn, ok := r.FindByConnection("conn-a")
	if !ok {
		t.Fatal("expected connection to be found")
	}
	if conn.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", conn.UserID)
	}
	if len(conn.Groups) != 0 {
		t.Errorf("expected no groups, got %v", conn.Groups)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.Subscribe("conn-a", "Device_1")
	r.RegisterClient("user-1", "conn-a")

	conn, ok := r.FindByConnection("conn-a")
	if !ok {
		t.Fatal("expected connection to survive re-registration")
	}
	if len(conn.Groups) != 1 || conn.Groups[0] != "Device_1" {
		t.Errorf("re-registration must not reset subscriptions, got %v", conn.Groups)
	}
	if r.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", r.ConnectionCount())
	}
}

func TestRegisterReassignsUser(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.RegisterClient("user-2", "conn-a")

	conn, _ := r.FindByConnection("conn-a")
	if conn.UserID != "user-2" {
		t.Errorf("expected user-2 after reassignment, got %s", conn.UserID)
	}
	if got := r.FindByUser("user-1"); len(got) != 0 {
		t.Errorf("user-1 should have no connections, got %v", got)
	}
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := New()
	r.UnregisterClient("missing") // must not panic
	if r.ConnectionCount() != 0 {
		t.Errorf("expected empty registry")
	}
}

func TestFindByUserMultipleConnections(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.RegisterClient("user-1", "conn-b")
	r.RegisterClient("user-2", "conn-c")

	conns := r.FindByUser("user-1")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for user-1, got %d", len(conns))
	}

	r.UnregisterClient("conn-a")
	conns = r.FindByUser("user-1")
	if len(conns) != 1 || conns[0].ConnectionID != "conn-b" {
		t.Errorf("expected only conn-b to remain, got %v", conns)
	}
}

func TestClearUser(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.RegisterClient("user-1", "conn-b")
	r.RegisterClient("user-2", "conn-c")

	r.ClearUser("user-1")

	if got := r.FindByUser("user-1"); len(got) != 0 {
		t.Errorf("expected user-1 cleared, got %v", got)
	}
	if _, ok := r.FindByConnection("conn-a"); ok {
		t.Error("conn-a should be gone")
	}
	if _, ok := r.FindByConnection("conn-c"); !ok {
		t.Error("conn-c must be unaffected")
	}
}

func TestSubscribeAndFindByGroup(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.RegisterClient("user-2", "conn-b")
	r.Subscribe("conn-a", "Device_7", "Sensor_3")
	r.Subscribe("conn-b", "Device_8")

	conns := r.FindByGroup("Device_7")
	if len(conns) != 1 || conns[0].ConnectionID != "conn-a" {
		t.Fatalf("expected only conn-a in Device_7, got %v", conns)
	}

	r.Unsubscribe("conn-a", "Device_7")
	if conns := r.FindByGroup("Device_7"); len(conns) != 0 {
		t.Errorf("expected Device_7 empty after unsubscribe, got %v", conns)
	}
}

func TestSubscribeUnknownConnectionIsNoOp(t *testing.T) {
	r := New()
	r.Subscribe("missing", "Device_1")
	r.Unsubscribe("missing", "Device_1")
	if conns := r.FindByGroup("Device_1"); len(conns) != 0 {
		t.Errorf("expected no subscribers, got %v", conns)
	}
}

func TestFindByAnyGroupContaining(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.RegisterClient("user-2", "conn-b")
	r.RegisterClient("user-3", "conn-c")
	r.Subscribe("conn-a", "Sensor_1")
	r.Subscribe("conn-b", "Sensor_2")
	r.Subscribe("conn-c", "Device_1")

	conns := r.FindByAnyGroupContaining("Sensor_")
	if len(conns) != 2 {
		t.Fatalf("expected 2 sensor watchers, got %d", len(conns))
	}
	for _, c := range conns {
		if c.ConnectionID == "conn-c" {
			t.Error("conn-c subscribes only to Device_1 and must not match")
		}
	}

	if got := r.FindByAnyGroupContaining(""); len(got) != 0 {
		t.Errorf("empty substring must not match, got %v", got)
	}
}

func TestOnlineUserIDs(t *testing.T) {
	r := New()
	r.RegisterClient("user-b", "conn-1")
	r.RegisterClient("user-a", "conn-2")
	r.RegisterClient("user-a", "conn-3")

	got := r.OnlineUserIDs()
	if len(got) != 2 || got[0] != "user-a" || got[1] != "user-b" {
		t.Errorf("expected sorted distinct [user-a user-b], got %v", got)
	}

	r.UnregisterClient("conn-2")
	r.UnregisterClient("conn-3")
	got = r.OnlineUserIDs()
	if len(got) != 1 || got[0] != "user-b" {
		t.Errorf("expected [user-b], got %v", got)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	r := New()
	r.RegisterClient("user-1", "conn-a")
	r.Subscribe("conn-a", "Device_1")

	conn, _ := r.FindByConnection("conn-a")
	conn.Groups[0] = "Device_999" // mutating the snapshot

	fresh, _ := r.FindByConnection("conn-a")
	if fresh.Groups[0] != "Device_1" {
		t.Error("registry state must not be affected by snapshot mutation")
	}
}

// TestConcurrentAccess exercises the registry under racing registrations,
// subscriptions, lookups, and disconnects. Run with -race.
func TestConcurrentAccess(t *testing.T) {
	r := New()
	const workers = 8
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", w%3)
			for i := 0; i < iterations; i++ {
				connID := fmt.Sprintf("conn-%d-%d", w, i)
				r.RegisterClient(userID, connID)
				r.Subscribe(connID, "Device_1", fmt.Sprintf("Sensor_%d", i%5))
				r.FindByGroup("Device_1")
				r.FindByUser(userID)
				r.OnlineUserIDs()
				r.Unsubscribe(connID, "Device_1")
				r.UnregisterClient(connID)
			}
		}(w)
	}
	wg.Wait()

	if r.ConnectionCount() != 0 {
		t.Errorf("expected all connections removed, got %d", r.ConnectionCount())
	}
}
