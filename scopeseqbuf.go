package main

import "time"

// Divisions of one sweep arrive back to back. Anything older than this
// belongs to a sweep that lost a division and is dropped.
const scopeSeqBufLength = 500 * time.Millisecond

type scopeSeqBufEntry struct {
	seq     byte
	data    []byte
	addedAt time.Time
}

// scopeSeqBufStruct collects the divisions of a scope waveform until the
// last one arrives.
type scopeSeqBufStruct struct {
	entries []scopeSeqBufEntry
	now     func() time.Time
}

func (s *scopeSeqBufStruct) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// add stores one division. When it was the last division of the sweep and
// every earlier one is present, the assembled sweep is returned.
func (s *scopeSeqBufStruct) add(seq, count byte, p []byte) (sweep []byte, complete bool) {
	if seq == 0 || count == 0 || seq > count {
		return nil, false
	}
	if seq == 1 {
		// a new sweep starts, leftovers are from an incomplete one
		s.entries = s.entries[:0]
	}
	d := make([]byte, len(p))
	copy(d, p)
	s.entries = append(s.entries, scopeSeqBufEntry{
		seq:     seq,
		data:    d,
		addedAt: s.timeNow(),
	})
	s.purgeOldEntries()

	if seq != count {
		return nil, false
	}

	for want := byte(1); want <= count; want++ {
		d, ok := s.get(want)
		if !ok {
			s.entries = s.entries[:0]
			return nil, false
		}
		sweep = append(sweep, d...)
	}
	s.entries = s.entries[:0]
	return sweep, true
}

func (s *scopeSeqBufStruct) purgeOldEntries() {
	for len(s.entries) > 0 && s.timeNow().Sub(s.entries[0].addedAt) > scopeSeqBufLength {
		s.entries = s.entries[1:]
	}
}

func (s *scopeSeqBufStruct) get(seq byte) (d []byte, ok bool) {
	// Searching from backwards, as the division asked for is usually recent.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].seq == seq {
			return s.entries[i].data, true
		}
	}
	return nil, false
}
