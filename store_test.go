package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *store {
	t.Helper()
	s, err := openStore(filepath.Join(t.TempDir(), "nested", "scan.db"))
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, settingsKey, []byte(`{"delay_time":2500}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, settingsKey, []byte(`{"delay_time":5000}`)); err != nil {
		t.Fatalf("Set (update): %v", err)
	}
	v, ok, err := s.Get(ctx, settingsKey)
	if err != nil || !ok || string(v) != `{"delay_time":5000}` {
		t.Fatalf("Get = %s, %v, %v", v, ok, err)
	}

	if err := s.Delete(ctx, settingsKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, settingsKey); ok {
		t.Error("value still present after Delete")
	}
	if err := s.Delete(ctx, settingsKey); err != nil {
		t.Errorf("Delete of a missing key: %v", err)
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scan.db")

	s, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	p := &persistence{store: s}
	if err := p.saveBlacklist(ctx, []ignoreEntry{pointEntry(145500000)}); err != nil {
		t.Fatalf("saveBlacklist: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = openStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close() //nolint:errcheck

	entries, err := (&persistence{store: s}).loadBlacklist(ctx)
	if err != nil {
		t.Fatalf("loadBlacklist: %v", err)
	}
	if len(entries) != 1 || entries[0] != pointEntry(145500000) {
		t.Errorf("entries = %v", entries)
	}
}

func TestStorePragmas(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var mode string
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := s.db.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestStoreSingleOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scan.db")

	live, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	reg := newIgnoreRegistry(nil, nil, defaultVoiceModes, defaultDigitalKeywords)
	reg.onChange = func(entries []ignoreEntry) {
		if err := (&persistence{store: live}).saveBlacklist(ctx, entries); err != nil {
			t.Errorf("saveBlacklist: %v", err)
		}
	}

	// an offline edit while the scanner holds the store is refused instead
	// of being overwritten by the scanner's next save
	if _, err := openStore(path); !errors.Is(err, errStoreInUse) {
		t.Fatalf("second openStore error = %v, want %v", err, errStoreInUse)
	}
	reg.block(145500000)
	if err := live.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore after Close: %v", err)
	}
	defer s.Close() //nolint:errcheck
	p := &persistence{store: s}
	if err := runOffline(ctx, p, defaultConfig(), offlineArgs{blockRange: "446000000-446200000"}, io.Discard); err != nil {
		t.Fatalf("runOffline: %v", err)
	}
	entries, err := p.loadBlacklist(ctx)
	if err != nil {
		t.Fatalf("loadBlacklist: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %v, want the live block and the offline range", entries)
	}
}
