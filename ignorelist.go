package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	defaultIgnoreTolerance  = 5000 // Hz, used when the passband is unknown
	passbandToleranceMargin = 2500
	bookmarkToleranceMargin = 3000
)

var defaultVoiceModes = []string{"am", "fm", "nfm", "lsb", "usb"}

var defaultDigitalKeywords = []string{
	"dstar", "d-star", "dmr", "ysf", "c4fm", "fusion", "p25", "nxdn", "tetra",
	"pocsag", "m17", "acars", "vdl", "sita", "arinc",
}

// Modulations whose bookmarks are still checked for digital keywords in
// their name.
var keywordCheckedModes = map[string]bool{"nfm": true, "fm": true, "am": true}

type ignoreKind int

const (
	ignorePoint ignoreKind = iota
	ignoreRange
)

// ignoreEntry is either a single frequency (start == end) or an inclusive
// range. Persisted as a bare number or a {start, end} object.
type ignoreEntry struct {
	kind  ignoreKind
	start int64
	end   int64
}

func pointEntry(f int64) ignoreEntry {
	return ignoreEntry{kind: ignorePoint, start: f, end: f}
}

func rangeEntry(start, end int64) ignoreEntry {
	if start > end {
		start, end = end, start
	}
	return ignoreEntry{kind: ignoreRange, start: start, end: end}
}

func (e ignoreEntry) String() string {
	switch e.kind {
	case ignorePoint:
		return formatFreq(e.start)
	case ignoreRange:
		return formatFreq(e.start) + " - " + formatFreq(e.end)
	}
	panic(fmt.Sprintf("unknown ignore entry kind %d", e.kind))
}

func (e ignoreEntry) matches(f, tolerance int64) bool {
	switch e.kind {
	case ignorePoint:
		return abs64(f-e.start) <= tolerance
	case ignoreRange:
		return f >= e.start && f <= e.end
	}
	panic(fmt.Sprintf("unknown ignore entry kind %d", e.kind))
}

type rangeJSON struct {
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
}

func (e ignoreEntry) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case ignorePoint:
		return json.Marshal(e.start)
	case ignoreRange:
		return json.Marshal(rangeJSON{Start: &e.start, End: &e.end})
	}
	return nil, fmt.Errorf("unknown ignore entry kind %d", e.kind)
}

var errInvalidIgnoreEntry = errors.New("invalid blacklist entry")

func (e *ignoreEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var r rangeJSON
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("%w: %v", errInvalidIgnoreEntry, err)
		}
		if r.Start == nil || r.End == nil {
			return fmt.Errorf("%w: range needs start and end", errInvalidIgnoreEntry)
		}
		*e = rangeEntry(*r.Start, *r.End)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %s", errInvalidIgnoreEntry, string(data))
	}
	*e = pointEntry(int64(f))
	return nil
}

type passbandSource interface {
	// Passband returns the demodulator's low and high cut relative to the
	// tuned frequency.
	Passband() (low, high int64, ok bool)
}

type bookmarkSource interface {
	Bookmarks() []bookmark
}

// ignoreRegistry decides which frequencies the scanner must never stop on:
// the user's blacklist plus, when ignoreNonVoice is set, anything close to a
// bookmark of a non-voice channel.
type ignoreRegistry struct {
	mutex sync.Mutex

	entries        []ignoreEntry
	ignoreNonVoice bool

	passband        passbandSource
	bookmarks       bookmarkSource
	voiceModes      map[string]bool
	digitalKeywords []string

	// called with a copy of the entries after every mutation
	onChange func([]ignoreEntry)
}

func newIgnoreRegistry(passband passbandSource, bookmarks bookmarkSource, voiceModes, digitalKeywords []string) *ignoreRegistry {
	r := &ignoreRegistry{
		passband:        passband,
		bookmarks:       bookmarks,
		voiceModes:      make(map[string]bool),
		digitalKeywords: digitalKeywords,
		ignoreNonVoice:  true,
	}
	for _, m := range voiceModes {
		r.voiceModes[strings.ToLower(m)] = true
	}
	return r
}

func (r *ignoreRegistry) tolerance() int64 {
	if r.passband == nil {
		return defaultIgnoreTolerance
	}
	low, high, ok := r.passband.Passband()
	if !ok {
		return defaultIgnoreTolerance
	}
	radius := abs64(low)
	if abs64(high) > radius {
		radius = abs64(high)
	}
	if radius <= 0 {
		return defaultIgnoreTolerance
	}
	return radius + passbandToleranceMargin
}

func (r *ignoreRegistry) isBlacklisted(f int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.isBlacklistedLocked(f, r.tolerance())
}

func (r *ignoreRegistry) isBlacklistedLocked(f, tolerance int64) bool {
	for _, e := range r.entries {
		if e.matches(f, tolerance) {
			return true
		}
	}
	return false
}

func (r *ignoreRegistry) isBookmarkSuppressed(f int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.isBookmarkSuppressedLocked(f, r.tolerance())
}

func (r *ignoreRegistry) isBookmarkSuppressedLocked(f, tolerance int64) bool {
	if !r.ignoreNonVoice || r.bookmarks == nil {
		return false
	}
	tolerance += bookmarkToleranceMargin

	for _, b := range r.bookmarks.Bookmarks() {
		if b.Frequency == 0 || abs64(f-b.Frequency) > tolerance {
			continue
		}
		mod := b.modulation()
		if !r.voiceModes[mod] {
			return true
		}
		if keywordCheckedModes[mod] {
			name := strings.ToLower(b.Name)
			for _, k := range r.digitalKeywords {
				if strings.Contains(name, k) {
					return true
				}
			}
		}
	}
	return false
}

func (r *ignoreRegistry) isIgnored(f int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tolerance := r.tolerance()
	return r.isBlacklistedLocked(f, tolerance) || r.isBookmarkSuppressedLocked(f, tolerance)
}

func (r *ignoreRegistry) setIgnoreNonVoice(v bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ignoreNonVoice = v
}

func (r *ignoreRegistry) getIgnoreNonVoice() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ignoreNonVoice
}

func (r *ignoreRegistry) changed() {
	if r.onChange != nil {
		r.onChange(r.copyEntries())
	}
}

func (r *ignoreRegistry) copyEntries() []ignoreEntry {
	return append([]ignoreEntry(nil), r.entries...)
}

// block adds f as a point entry unless it is already covered. Returns true
// if the blacklist changed.
func (r *ignoreRegistry) block(f int64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.isBlacklistedLocked(f, r.tolerance()) {
		return false
	}
	r.entries = append(r.entries, pointEntry(f))
	r.changed()
	return true
}

// unblock removes every point within tolerance of f and every range that
// contains f. Returns the number of removed entries.
func (r *ignoreRegistry) unblock(f int64) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tolerance := r.tolerance()
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.matches(f, tolerance) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	if removed > 0 {
		r.changed()
	}
	return removed
}

// blockRange inserts [start, end], folds overlapping and touching ranges
// and drops points that ended up inside a range.
func (r *ignoreRegistry) blockRange(start, end int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = mergeIgnoreEntries(append(r.entries, rangeEntry(start, end)))
	r.changed()
}

func mergeIgnoreEntries(entries []ignoreEntry) []ignoreEntry {
	sorted := append([]ignoreEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].start < sorted[j].start
	})

	var ranges []ignoreEntry
	var points []ignoreEntry
	for _, e := range sorted {
		switch e.kind {
		case ignorePoint:
			points = append(points, e)
		case ignoreRange:
			if n := len(ranges); n > 0 && e.start <= ranges[n-1].end+1 {
				if e.end > ranges[n-1].end {
					ranges[n-1].end = e.end
				}
				continue
			}
			ranges = append(ranges, e)
		}
	}

	merged := append([]ignoreEntry(nil), ranges...)
	for _, p := range points {
		subsumed := false
		for _, rg := range ranges {
			if p.start >= rg.start && p.start <= rg.end {
				subsumed = true
				break
			}
		}
		if !subsumed {
			merged = append(merged, p)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].start < merged[j].start
	})
	return merged
}

func (r *ignoreRegistry) clear() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n := len(r.entries)
	r.entries = nil
	r.changed()
	return n
}

// replace swaps the whole blacklist, used by import and by loading from the
// store.
func (r *ignoreRegistry) replace(entries []ignoreEntry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = append([]ignoreEntry(nil), entries...)
	r.changed()
}

func (r *ignoreRegistry) list() []ignoreEntry {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.copyEntries()
}

func (r *ignoreRegistry) counts() (points, ranges int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, e := range r.entries {
		switch e.kind {
		case ignorePoint:
			points++
		case ignoreRange:
			ranges++
		}
	}
	return
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
