package main

import "time"

type clockTimer interface {
	Stop() bool
}

// clock is the scanner's only source of time, so tests can drive the
// dwell/hang timers deterministically.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clockTimer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) clockTimer {
	return time.AfterFunc(d, f)
}
