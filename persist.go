package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	blacklistKey = "freq_scanner_blacklist"
	settingsKey  = "freq_scanner_settings"

	defaultBlockColor = "yellow"
)

var errInvalidImport = errors.New("invalid import file")

// scanSettings is the persisted part of the scanner configuration. It is
// also the top level of the export file, next to the blacklist.
type scanSettings struct {
	DelayTime         int64    `json:"delay_time"` // ms
	ScanMode          scanMode `json:"scan_mode"`
	IgnoreNonVoice    bool     `json:"ignore_non_voice"`
	ShowBlockedRanges bool     `json:"show_blocked_ranges"`
	BlockColor        string   `json:"block_color"`
}

func (s *scanner) settingsLocked() scanSettings {
	return scanSettings{
		DelayTime:         int64(s.cfg.delayTime / time.Millisecond),
		ScanMode:          s.state.mode,
		IgnoreNonVoice:    s.ignore.getIgnoreNonVoice(),
		ShowBlockedRanges: s.display.showBlockedRanges,
		BlockColor:        s.display.blockColor,
	}
}

func (s *scanner) settings() scanSettings {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.settingsLocked()
}

// applySettings installs loaded or imported settings without reporting them
// back through onSettingsChange.
func (s *scanner) applySettings(st scanSettings) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cfg.delayTime = time.Duration(st.DelayTime) * time.Millisecond
	s.state.mode = st.ScanMode
	s.ignore.setIgnoreNonVoice(st.IgnoreNonVoice)
	s.display.showBlockedRanges = st.ShowBlockedRanges
	if st.BlockColor != "" {
		s.display.blockColor = st.BlockColor
	}
}

func (s *scanner) toggleShowBlockedRanges() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.display.showBlockedRanges = !s.display.showBlockedRanges
	s.settingsChanged()
	return s.display.showBlockedRanges
}

type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type persistence struct {
	store kvStore
}

func (p *persistence) loadBlacklist(ctx context.Context) ([]ignoreEntry, error) {
	data, ok, err := p.store.Get(ctx, blacklistKey)
	if err != nil || !ok {
		return nil, err
	}
	var entries []ignoreEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding stored blacklist: %w", err)
	}
	return entries, nil
}

func (p *persistence) saveBlacklist(ctx context.Context, entries []ignoreEntry) error {
	if len(entries) == 0 {
		return p.store.Delete(ctx, blacklistKey)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, blacklistKey, data)
}

func defaultScanSettings(delay time.Duration) scanSettings {
	return scanSettings{
		DelayTime:      int64(delay / time.Millisecond),
		ScanMode:       modeCarrier,
		IgnoreNonVoice: true,
		BlockColor:     defaultBlockColor,
	}
}

// loadSettings returns def with every stored field applied on top.
func (p *persistence) loadSettings(ctx context.Context, def scanSettings) (scanSettings, error) {
	data, ok, err := p.store.Get(ctx, settingsKey)
	if err != nil || !ok {
		return def, err
	}
	st := def
	if err := json.Unmarshal(data, &st); err != nil {
		return def, fmt.Errorf("decoding stored settings: %w", err)
	}
	return st, nil
}

func (p *persistence) saveSettings(ctx context.Context, st scanSettings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, settingsKey, data)
}

type exportDocument struct {
	scanSettings
	Blacklist []ignoreEntry `json:"blacklist"`
}

func exportJSON(st scanSettings, entries []ignoreEntry) ([]byte, error) {
	if entries == nil {
		entries = []ignoreEntry{}
	}
	return json.MarshalIndent(exportDocument{scanSettings: st, Blacklist: entries}, "", "  ")
}

type importResult struct {
	settings     scanSettings
	blacklist    []ignoreEntry
	hasBlacklist bool
}

// parseImport validates a whole export document and merges it over current.
// Nothing is returned unless every present field is valid, so a bad file
// never half-applies.
func parseImport(data []byte, current scanSettings) (importResult, error) {
	res := importResult{settings: current}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return res, fmt.Errorf("%w: top level must be an object", errInvalidImport)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return res, fmt.Errorf("%w: %v", errInvalidImport, err)
	}

	recognized := 0
	for key, raw := range fields {
		var err error
		switch key {
		case "delay_time":
			var ms float64
			if err = json.Unmarshal(raw, &ms); err == nil && ms < 0 {
				err = errors.New("must not be negative")
			}
			res.settings.DelayTime = int64(ms)
		case "scan_mode":
			var s string
			if err = json.Unmarshal(raw, &s); err == nil {
				res.settings.ScanMode, err = parseScanMode(s)
			}
		case "ignore_non_voice":
			err = json.Unmarshal(raw, &res.settings.IgnoreNonVoice)
		case "show_blocked_ranges":
			err = json.Unmarshal(raw, &res.settings.ShowBlockedRanges)
		case "block_color":
			var c string
			if err = json.Unmarshal(raw, &c); err == nil {
				c = strings.ToLower(c)
				if _, ok := blockColors[c]; !ok {
					err = fmt.Errorf("unknown color %q", c)
				}
				res.settings.BlockColor = c
			}
		case "blacklist":
			err = json.Unmarshal(raw, &res.blacklist)
			res.hasBlacklist = true
		default:
			continue
		}
		if err != nil {
			return importResult{settings: current}, fmt.Errorf("%w: %s: %v", errInvalidImport, key, err)
		}
		recognized++
	}

	if recognized == 0 {
		return importResult{settings: current}, fmt.Errorf("%w: no known keys", errInvalidImport)
	}
	return res, nil
}

// importDocument applies a validated export file to a running scanner.
func importDocument(data []byte, sc *scanner, reg *ignoreRegistry) error {
	res, err := parseImport(data, sc.settings())
	if err != nil {
		return err
	}
	sc.applySettings(res.settings)
	sc.mutex.Lock()
	sc.settingsChanged()
	sc.mutex.Unlock()
	if res.hasBlacklist {
		reg.replace(res.blacklist)
	}
	return nil
}
