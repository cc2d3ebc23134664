package main

import "testing"

func TestSnapshotIndexMapping(t *testing.T) {
	snap := testSnapshot(nil)

	if got := snap.freqToIdx(99500000); got != 0 {
		t.Errorf("freqToIdx(low edge) = %d, want 0", got)
	}
	if got := snap.freqToIdx(99800999); got != 300 {
		t.Errorf("freqToIdx(99800999) = %d, want 300", got)
	}
	if got := snap.idxToFreq(300); got != 99800000 {
		t.Errorf("idxToFreq(300) = %d, want 99800000", got)
	}
	if got := snap.hzToBins(12500); got != 13 {
		t.Errorf("hzToBins(12500) = %d, want 13", got)
	}
}

func TestFindNextPeak(t *testing.T) {
	tests := []struct {
		name    string
		peaks   map[int]float64
		current int64
		reject  map[int64]bool
		want    int64
		found   bool
	}{
		{
			name:    "empty",
			current: 99600000,
		},
		{
			name:    "ahead",
			peaks:   map[int]float64{400: -30},
			current: 99600000,
			want:    99900000,
			found:   true,
		},
		{
			name:    "inside skip distance is passed over",
			peaks:   map[int]float64{105: -30, 400: -30},
			current: 99600000,
			want:    99900000,
			found:   true,
		},
		{
			name:    "wraps to the bottom",
			peaks:   map[int]float64{100: -30},
			current: 99900000,
			want:    99600000,
			found:   true,
		},
		{
			name:    "strongest bin of a run",
			peaks:   map[int]float64{400: -40, 401: -20, 402: -35},
			current: 99600000,
			want:    99901000,
			found:   true,
		},
		{
			name:    "rejected run is skipped whole",
			peaks:   map[int]float64{400: -40, 401: -20, 402: -35, 600: -30},
			current: 99600000,
			reject:  map[int64]bool{99901000: true},
			want:    100100000,
			found:   true,
		},
		{
			name:    "below threshold",
			peaks:   map[int]float64{400: -50},
			current: 99600000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := spectrumSnapshot{}
			if tt.peaks != nil {
				snap = testSnapshot(tt.peaks)
			}
			accept := func(f int64) bool { return !tt.reject[f] }

			got, ok := findNextPeak(snap, tt.current, 12500, -45, accept)
			if ok != tt.found || got != tt.want {
				t.Errorf("findNextPeak = %d, %v, want %d, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestPeakNear(t *testing.T) {
	snap := testSnapshot(map[int]float64{300: -40, 302: -20, 310: 0})

	got, ok := peakNear(snap, 99800000, 3000)
	if !ok || got != 99802000 {
		t.Errorf("peakNear = %d, %v, want 99802000, true", got, ok)
	}

	snap = testSnapshot(map[int]float64{300: -20, 301: -40})
	if _, ok := peakNear(snap, 99800000, 3000); ok {
		t.Error("peakNear moved off a frequency that is already the maximum")
	}

	if _, ok := peakNear(spectrumSnapshot{}, 99800000, 3000); ok {
		t.Error("peakNear found a peak in an empty snapshot")
	}
}
