package dataset

import (
	"context"
	"path/filepath"
	"testing"
)

func TestJSONStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builds.json")
	store := NewJSONStore(path)
	ctx := context.Background()

	records, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("expected no error on missing file, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty store, got %d records", len(records))
	}

	first := []BuildRecord{
		{PackageName: "vim", Version: "9.1", MockChroot: "fedora-42-x86_64", DurationSecs: 300},
	}
	if err := store.SaveRecords(ctx, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := []BuildRecord{
		{PackageName: "kernel", Version: "6.10", MockChroot: "fedora-42-x86_64", Deps: []string{"gcc"}, DurationSecs: 7200},
	}
	if err := store.SaveRecords(ctx, second); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	records, err = store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after append, got %d", len(records))
	}
	if records[0].PackageName != "vim" || records[1].PackageName != "kernel" {
		t.Fatalf("unexpected record order: %s, %s", records[0].PackageName, records[1].PackageName)
	}
	if records[1].Deps[0] != "gcc" {
		t.Fatalf("deps not preserved: %v", records[1].Deps)
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	if _, err := OpenStore("oracle", "dsn"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builds.db")
	store, err := OpenStore("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	records := []BuildRecord{
		{
			PackageName: "vim", Version: "9.1", OS: "fedora", OSVersion: "42",
			Arch: "x86_64", MockChroot: "fedora-42-x86_64",
			Deps:   []string{"gcc", "ncurses-devel"},
			HwInfo:    &HwInfo{CPUCores: 8, CPUThreads: 16, RAMMB: 32000},
			EpochSecs: 1700000000, DurationSecs: 300,
		},
	}
	if err := store.SaveRecords(ctx, records); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 record, got %d", len(loaded))
	}
	got := loaded[0]
	if got.PackageName != "vim" || got.MockChroot != "fedora-42-x86_64" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Deps) != 2 || got.Deps[1] != "ncurses-devel" {
		t.Fatalf("deps not preserved: %v", got.Deps)
	}
	if got.HwInfo == nil || got.HwInfo.CPUThreads != 16 {
		t.Fatalf("hw_info not preserved: %+v", got.HwInfo)
	}
}
