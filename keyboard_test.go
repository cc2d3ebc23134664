package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScannerKeysBlockRange(t *testing.T) {
	sc, radio, _, reg := newTestScanner(t)
	quit := false
	bindScannerKeys(sc, reg, filepath.Join(t.TempDir(), "export.json"), func() { quit = true })
	t.Cleanup(func() { keyboard.handlers = nil })

	radio.freq = 446000000
	keyboard.handleKey('[')
	radio.freq = 446200000
	keyboard.handleKey('[')

	entries := reg.list()
	if len(entries) != 1 || entries[0] != rangeEntry(446000000, 446200000) {
		t.Fatalf("blacklist = %v", entries)
	}

	keyboard.handleKey('[')
	keyboard.handleKey(']')
	keyboard.handleKey('[')
	if len(reg.list()) != 1 {
		t.Errorf("cancelled mark still produced a range: %v", reg.list())
	}

	keyboard.handleKey('q')
	if !quit {
		t.Error("q did not quit")
	}
}

func TestScannerKeysExportImport(t *testing.T) {
	sc, radio, _, reg := newTestScanner(t)
	path := filepath.Join(t.TempDir(), "export.json")
	bindScannerKeys(sc, reg, path, func() {})
	t.Cleanup(func() { keyboard.handlers = nil })

	radio.freq = 145500000
	keyboard.handleKey('b')
	keyboard.handleKey('e')
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("export file: %v", err)
	}

	keyboard.handleKey('c')
	if len(reg.list()) != 0 {
		t.Fatal("blacklist not cleared")
	}
	keyboard.handleKey('i')
	if !reg.isBlacklisted(145500000) {
		t.Errorf("import did not restore the blacklist: %v", reg.list())
	}
}
