package main

import (
	"bytes"
	"testing"
	"time"
)

func TestScopeSeqBufAssembles(t *testing.T) {
	var b scopeSeqBufStruct

	if _, ok := b.add(1, 3, []byte{1, 2}); ok {
		t.Fatal("complete after first division")
	}
	if _, ok := b.add(2, 3, []byte{3}); ok {
		t.Fatal("complete after second division")
	}
	sweep, ok := b.add(3, 3, []byte{4, 5})
	if !ok || !bytes.Equal(sweep, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("sweep = %v, %v", sweep, ok)
	}
	if len(b.entries) != 0 {
		t.Error("entries left after a complete sweep")
	}
}

func TestScopeSeqBufMissingDivision(t *testing.T) {
	var b scopeSeqBufStruct
	b.add(1, 3, []byte{1})
	if _, ok := b.add(3, 3, []byte{3}); ok {
		t.Error("sweep completed without division 2")
	}

	// the next sweep is not polluted by the broken one
	b.add(1, 2, []byte{7})
	if sweep, ok := b.add(2, 2, []byte{8}); !ok || !bytes.Equal(sweep, []byte{7, 8}) {
		t.Errorf("sweep = %v, %v", sweep, ok)
	}
}

func TestScopeSeqBufRestart(t *testing.T) {
	var b scopeSeqBufStruct
	b.add(1, 2, []byte{1})
	b.add(1, 2, []byte{9})
	if sweep, ok := b.add(2, 2, []byte{2}); !ok || !bytes.Equal(sweep, []byte{9, 2}) {
		t.Errorf("sweep = %v, %v", sweep, ok)
	}
}

func TestScopeSeqBufPurgesStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := scopeSeqBufStruct{now: func() time.Time { return now }}

	b.add(1, 2, []byte{1})
	now = now.Add(scopeSeqBufLength + time.Millisecond)
	if _, ok := b.add(2, 2, []byte{2}); ok {
		t.Error("sweep completed from a stale division")
	}
}

func TestScopeSeqBufRejectsBadSequence(t *testing.T) {
	var b scopeSeqBufStruct
	for _, c := range []struct{ seq, count byte }{{0, 2}, {1, 0}, {3, 2}} {
		if _, ok := b.add(c.seq, c.count, []byte{1}); ok {
			t.Errorf("add(%d, %d) completed", c.seq, c.count)
		}
	}
	if len(b.entries) != 0 {
		t.Errorf("invalid divisions stored: %v", b.entries)
	}
}

func TestScopeSeqBufCopiesData(t *testing.T) {
	var b scopeSeqBufStruct
	p := []byte{1}
	b.add(1, 2, p)
	p[0] = 99
	if sweep, _ := b.add(2, 2, []byte{2}); !bytes.Equal(sweep, []byte{1, 2}) {
		t.Errorf("sweep = %v, buffer aliases the caller's slice", sweep)
	}
}
