package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	peakSearchWindow = 15000 // Hz scanned past a threshold crossing for its maximum
	fineTuneWindow   = 3000  // Hz searched either side of the tuned frequency
	fineTuneMinShift = 50    // Hz, smaller corrections are not worth a retune
)

// spectrumSnapshot is one sweep of magnitudes in dB covering
// [centerFreq-bandwidth/2, centerFreq+bandwidth/2).
type spectrumSnapshot struct {
	centerFreq int64
	bandwidth  int64
	bins       []float64
}

func (s spectrumSnapshot) empty() bool {
	return len(s.bins) == 0 || s.bandwidth <= 0
}

func (s spectrumSnapshot) lowEdge() float64 {
	return float64(s.centerFreq) - float64(s.bandwidth)/2
}

func (s spectrumSnapshot) freqToIdx(f int64) int {
	return int(math.Floor((float64(f) - s.lowEdge()) / float64(s.bandwidth) * float64(len(s.bins))))
}

func (s spectrumSnapshot) idxToFreq(i int) int64 {
	return int64(math.Round(s.lowEdge() + float64(i)/float64(len(s.bins))*float64(s.bandwidth)))
}

// hzToBins converts a width in Hz to a bin count, rounded up.
func (s spectrumSnapshot) hzToBins(hz int64) int {
	return int(math.Ceil(float64(hz) / float64(s.bandwidth) * float64(len(s.bins))))
}

// peakRun walks the contiguous run of bins >= threshold starting at from,
// at most maxBins long, and returns the index of its maximum and the index
// where the run ended.
func (s spectrumSnapshot) peakRun(from, maxBins int, threshold float64) (peakIdx, endIdx int) {
	limit := from + maxBins
	if limit > len(s.bins) {
		limit = len(s.bins)
	}
	end := from
	for end < limit && s.bins[end] >= threshold {
		end++
	}
	endIdx = end
	if end == limit && limit > from {
		endIdx = limit - 1
	}
	if end == from {
		return from, endIdx
	}
	return from + floats.MaxIdx(s.bins[from:end]), endIdx
}

// findNextPeak looks for the next emission above threshold after currentFreq,
// first up to the top of the sweep and then wrapping around from the bottom.
// Runs are consumed whole so one emission is never reported twice in a pass.
// accept filters candidate peak frequencies (blacklist, bookmarks, span).
func findNextPeak(snap spectrumSnapshot, currentFreq, step int64, threshold float64, accept func(int64) bool) (int64, bool) {
	if snap.empty() {
		return 0, false
	}
	n := len(snap.bins)

	currentIdx := snap.freqToIdx(currentFreq)
	if currentIdx < 0 {
		currentIdx = 0
	}
	if currentIdx >= n {
		currentIdx = n - 1
	}

	skipBins := snap.hzToBins(step)
	if skipBins < 1 {
		skipBins = 1
	}
	searchBins := snap.hzToBins(peakSearchWindow)

	search := func(from, to int) (int64, bool) {
		for i := from; i < to; i++ {
			if snap.bins[i] < threshold {
				continue
			}
			peakIdx, endIdx := snap.peakRun(i, searchBins, threshold)
			f := snap.idxToFreq(peakIdx)
			if accept == nil || accept(f) {
				return f, true
			}
			i = endIdx
		}
		return 0, false
	}

	if f, ok := search(currentIdx+skipBins, n); ok {
		return f, true
	}
	return search(0, currentIdx)
}

// peakNear returns the frequency of the strongest bin within window Hz of
// freq. ok is false when there is no data or the strongest bin is freq's own.
func peakNear(snap spectrumSnapshot, freq, window int64) (int64, bool) {
	if snap.empty() {
		return 0, false
	}
	currentIdx := snap.freqToIdx(freq)
	searchBins := snap.hzToBins(window)

	startIdx := currentIdx - searchBins
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := currentIdx + searchBins
	if endIdx > len(snap.bins)-1 {
		endIdx = len(snap.bins) - 1
	}
	if startIdx > endIdx {
		return 0, false
	}

	maxIdx := startIdx + floats.MaxIdx(snap.bins[startIdx:endIdx+1])
	if maxIdx == currentIdx {
		return 0, false
	}
	return snap.idxToFreq(maxIdx), true
}
