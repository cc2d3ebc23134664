package main

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

// memStore is an in-memory kvStore.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestPersistBlacklist(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	p := &persistence{store: ms}

	entries := []ignoreEntry{pointEntry(145500000), rangeEntry(430000000, 440000000)}
	if err := p.saveBlacklist(ctx, entries); err != nil {
		t.Fatalf("saveBlacklist: %v", err)
	}
	if got := string(ms.data[blacklistKey]); got != `[145500000,{"start":430000000,"end":440000000}]` {
		t.Errorf("stored blacklist = %s", got)
	}

	loaded, err := p.loadBlacklist(ctx)
	if err != nil {
		t.Fatalf("loadBlacklist: %v", err)
	}
	if !reflect.DeepEqual(loaded, entries) {
		t.Errorf("loaded = %v, want %v", loaded, entries)
	}

	if err := p.saveBlacklist(ctx, nil); err != nil {
		t.Fatalf("saveBlacklist(nil): %v", err)
	}
	if _, ok := ms.data[blacklistKey]; ok {
		t.Error("empty blacklist left a stored value")
	}
}

func TestPersistSettings(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	p := &persistence{store: ms}
	def := defaultScanSettings(defaultDelayTime)

	st, err := p.loadSettings(ctx, def)
	if err != nil || st != def {
		t.Fatalf("loadSettings on empty store = %+v, %v", st, err)
	}

	ms.data[settingsKey] = []byte(`{"delay_time":5000,"scan_mode":"STOP_ON_SIGNAL"}`)
	st, err = p.loadSettings(ctx, def)
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if st.DelayTime != 5000 || st.ScanMode != modeStopOnSignal || !st.IgnoreNonVoice || st.BlockColor != defaultBlockColor {
		t.Errorf("loaded settings = %+v", st)
	}

	st.ShowBlockedRanges = true
	if err := p.saveSettings(ctx, st); err != nil {
		t.Fatalf("saveSettings: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(ms.data[settingsKey], &raw); err != nil {
		t.Fatalf("stored settings are not JSON: %v", err)
	}
	if raw["scan_mode"] != "STOP" || raw["show_blocked_ranges"] != true {
		t.Errorf("stored settings = %v", raw)
	}
}

func TestExportJSON(t *testing.T) {
	st := defaultScanSettings(defaultDelayTime)
	data, err := exportJSON(st, nil)
	if err != nil {
		t.Fatalf("exportJSON: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not an object: %v", err)
	}
	for _, key := range []string{"delay_time", "scan_mode", "ignore_non_voice", "show_blocked_ranges", "block_color", "blacklist"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("export lacks %q", key)
		}
	}
	if string(doc["blacklist"]) != "[]" {
		t.Errorf("blacklist = %s, want []", doc["blacklist"])
	}

	res, err := parseImport(data, scanSettings{})
	if err != nil {
		t.Fatalf("re-importing export: %v", err)
	}
	if res.settings != st || !res.hasBlacklist || len(res.blacklist) != 0 {
		t.Errorf("re-imported = %+v", res)
	}
}

func TestParseImport(t *testing.T) {
	current := defaultScanSettings(defaultDelayTime)

	tests := []struct {
		name    string
		in      string
		wantErr bool
		check   func(t *testing.T, res importResult)
	}{
		{name: "array", in: `[1, 2]`, wantErr: true},
		{name: "scalar", in: `42`, wantErr: true},
		{name: "no known keys", in: `{"foo": 1}`, wantErr: true},
		{name: "negative delay", in: `{"delay_time": -1}`, wantErr: true},
		{name: "bad mode", in: `{"scan_mode": "FAST"}`, wantErr: true},
		{name: "bad color", in: `{"block_color": "purple"}`, wantErr: true},
		{name: "bad entry", in: `{"scan_mode": "STOP", "blacklist": [{"start": 5}]}`, wantErr: true},
		{
			name: "partial",
			in:   `{"scan_mode": "SAMPLE_10S", "extra": true}`,
			check: func(t *testing.T, res importResult) {
				if res.settings.ScanMode != modeSample10s || res.settings.DelayTime != current.DelayTime {
					t.Errorf("settings = %+v", res.settings)
				}
				if res.hasBlacklist {
					t.Error("hasBlacklist without a blacklist key")
				}
			},
		},
		{
			name: "full",
			in: `{"delay_time": 10000, "scan_mode": "CARRIER", "ignore_non_voice": false,
				"show_blocked_ranges": true, "block_color": "Cyan", "blacklist": [1000, {"start": 5, "end": 9}]}`,
			check: func(t *testing.T, res importResult) {
				want := scanSettings{DelayTime: 10000, ScanMode: modeCarrier, ShowBlockedRanges: true, BlockColor: "cyan"}
				if res.settings != want {
					t.Errorf("settings = %+v, want %+v", res.settings, want)
				}
				if !reflect.DeepEqual(res.blacklist, []ignoreEntry{pointEntry(1000), rangeEntry(5, 9)}) {
					t.Errorf("blacklist = %v", res.blacklist)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseImport([]byte(tt.in), current)
			if tt.wantErr {
				if !errors.Is(err, errInvalidImport) {
					t.Fatalf("error = %v, want %v", err, errInvalidImport)
				}
				if res.settings != current {
					t.Errorf("failed import changed settings: %+v", res.settings)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseImport: %v", err)
			}
			tt.check(t, res)
		})
	}
}

func TestImportDocumentAppliesAll(t *testing.T) {
	sc, _, _, reg := newTestScanner(t)
	reg.block(1000000)
	var saved []scanSettings
	sc.onSettingsChange = func(st scanSettings) { saved = append(saved, st) }

	err := importDocument([]byte(`{"delay_time": 5000, "ignore_non_voice": false, "blacklist": [{"start": 100, "end": 200}]}`), sc, reg)
	if err != nil {
		t.Fatalf("importDocument: %v", err)
	}
	if st := sc.status(); st.delay != 5*time.Second || st.ignoreNonVoice {
		t.Errorf("status after import = %+v", st)
	}
	if got := reg.list(); !reflect.DeepEqual(got, []ignoreEntry{rangeEntry(100, 200)}) {
		t.Errorf("blacklist after import = %v", got)
	}
	if len(saved) != 1 {
		t.Errorf("settings saved %d times, want 1", len(saved))
	}

	if err := importDocument([]byte(`{"delay_time": "soon"}`), sc, reg); err == nil {
		t.Fatal("import of a bad document succeeded")
	}
	if st := sc.status(); st.delay != 5*time.Second {
		t.Errorf("failed import changed delay to %v", st.delay)
	}
}

func TestToggleShowBlockedRanges(t *testing.T) {
	sc, _, _, _ := newTestScanner(t)
	if !sc.toggleShowBlockedRanges() {
		t.Error("first toggle should enable")
	}
	if sc.settings().ShowBlockedRanges != true {
		t.Error("setting not reflected")
	}
	if sc.toggleShowBlockedRanges() {
		t.Error("second toggle should disable")
	}
}
