package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseFreq(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{in: "446006250", want: 446006250},
		{in: " 145500000 ", want: 145500000},
		{in: "145.5M", want: 145500000},
		{in: "145.5MHz", want: 145500000},
		{in: "12.5k", want: 12500},
		{in: "", err: true},
		{in: "-5", err: true},
		{in: "abc", err: true},
		{in: "145.5MW", err: true},
	}
	for _, tt := range tests {
		got, err := parseFreq(tt.in)
		if tt.err {
			if !errors.Is(err, errInvalidFrequency) {
				t.Errorf("parseFreq(%q) error = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseFreq(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseFreqRange(t *testing.T) {
	start, end, err := parseFreqRange("446200000-446000000")
	if err != nil || start != 446000000 || end != 446200000 {
		t.Errorf("parseFreqRange = %d, %d, %v", start, end, err)
	}
	if _, _, err := parseFreqRange("446000000"); err == nil {
		t.Error("parseFreqRange accepted a single frequency")
	}
}

func TestRunOffline(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	ms := newMemStore()
	p := &persistence{store: ms}
	var out bytes.Buffer

	err := runOffline(ctx, p, cfg, offlineArgs{blockRange: "430000000-440000000"}, &out)
	if err != nil {
		t.Fatalf("block-range: %v", err)
	}
	err = runOffline(ctx, p, cfg, offlineArgs{blockRange: "439000000-441000000"}, &out)
	if err != nil {
		t.Fatalf("second block-range: %v", err)
	}
	entries, _ := p.loadBlacklist(ctx)
	if !reflect.DeepEqual(entries, []ignoreEntry{rangeEntry(430000000, 441000000)}) {
		t.Fatalf("stored entries = %v", entries)
	}

	exportPath := filepath.Join(t.TempDir(), "export.json")
	out.Reset()
	if err := runOffline(ctx, p, cfg, offlineArgs{list: true, exportPath: exportPath}, &out); err != nil {
		t.Fatalf("list/export: %v", err)
	}
	if !strings.Contains(out.String(), "range  430000000-441000000") {
		t.Errorf("list output = %q", out.String())
	}

	if err := runOffline(ctx, p, cfg, offlineArgs{unblock: "435M"}, &out); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if entries, _ := p.loadBlacklist(ctx); len(entries) != 0 {
		t.Fatalf("entries after unblock = %v", entries)
	}

	if err := runOffline(ctx, p, cfg, offlineArgs{importPath: exportPath}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	entries, _ = p.loadBlacklist(ctx)
	if !reflect.DeepEqual(entries, []ignoreEntry{rangeEntry(430000000, 441000000)}) {
		t.Errorf("entries after import = %v", entries)
	}
}

func TestRunOfflineBadImport(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	p := &persistence{store: ms}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"scan_mode": "FAST"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	err := runOffline(ctx, p, defaultConfig(), offlineArgs{importPath: path}, &bytes.Buffer{})
	if !errors.Is(err, errInvalidImport) {
		t.Fatalf("error = %v, want %v", err, errInvalidImport)
	}
	if len(ms.data) != 0 {
		t.Errorf("failed import wrote %v", ms.data)
	}
}
