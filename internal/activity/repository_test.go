package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/infrastructure/database"

	_ "github.com/fieldgrid/dispatch-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

func TestRecordAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	entry := &Entry{
		Kind:     KindDeviceOnline,
		DeviceID: "pump-17",
		Details:  map[string]any{"addr": "192.168.1.40:52101"},
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("Record() did not assign an ID")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("Record() did not assign CreatedAt")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}

	got := result.Entries[0]
	if got.Kind != KindDeviceOnline {
		t.Errorf("Kind = %q, want %q", got.Kind, KindDeviceOnline)
	}
	if got.DeviceID != "pump-17" {
		t.Errorf("DeviceID = %q, want pump-17", got.DeviceID)
	}
	if got.Details["addr"] != "192.168.1.40:52101" {
		t.Errorf("Details[addr] = %v, want 192.168.1.40:52101", got.Details["addr"])
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	entries := []*Entry{
		{Kind: KindDeviceOnline, DeviceID: "pump-17"},
		{Kind: KindDeviceOffline, DeviceID: "pump-17"},
		{Kind: KindCommandSubmitted, DeviceID: "valve-03", UserID: "operator-1"},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	byKind, err := repo.List(ctx, Filter{Kind: KindDeviceOffline})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if byKind.Total != 1 || byKind.Entries[0].Kind != KindDeviceOffline {
		t.Errorf("kind filter: got total %d, want 1 offline entry", byKind.Total)
	}

	byDevice, err := repo.List(ctx, Filter{DeviceID: "pump-17"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if byDevice.Total != 2 {
		t.Errorf("device filter: Total = %d, want 2", byDevice.Total)
	}

	both, err := repo.List(ctx, Filter{Kind: KindDeviceOnline, DeviceID: "valve-03"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if both.Total != 0 {
		t.Errorf("combined filter: Total = %d, want 0", both.Total)
	}
}

func TestList_OrderingAndPagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := &Entry{
			Kind:      KindCommandSubmitted,
			DeviceID:  "pump-17",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(page.Entries))
	}
	// Most recent first.
	if !page.Entries[0].CreatedAt.After(page.Entries[1].CreatedAt) {
		t.Errorf("entries not ordered most recent first: %v then %v",
			page.Entries[0].CreatedAt, page.Entries[1].CreatedAt)
	}

	next, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(next.Entries) != 1 {
		t.Errorf("len(Entries) at offset 4 = %d, want 1", len(next.Entries))
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	result, err := repo.List(ctx, Filter{Limit: 10000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("Limit = %d, want clamped to 200", result.Limit)
	}

	result, err = repo.List(ctx, Filter{Limit: -5, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", result.Limit)
	}
	if result.Offset != 0 {
		t.Errorf("Offset = %d, want clamped to 0", result.Offset)
	}
}
