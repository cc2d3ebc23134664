package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventBusDispatch(t *testing.T) {
	bus := newEventBus(8)

	var mu sync.Mutex
	var got []radioEvent
	done := make(chan struct{}, 2)
	bus.subscribe(eventManualRetune, func(e radioEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})
	bus.subscribe(eventProfileChanged, func(radioEvent) {
		panic("handler failure")
	})
	bus.subscribe(eventProfileChanged, func(radioEvent) { done <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- bus.run(ctx) }()

	bus.publish(radioEvent{Type: eventManualRetune, Freq: 145000000})
	bus.publish(radioEvent{Type: eventProfileChanged})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handlers not called")
		}
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Freq != 145000000 || got[0].Timestamp.IsZero() {
		t.Errorf("events = %+v", got)
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := newEventBus(1)
	bus.publish(radioEvent{Type: eventManualRetune, Freq: 1})
	bus.publish(radioEvent{Type: eventManualRetune, Freq: 2})

	if len(bus.ch) != 1 {
		t.Fatalf("queued %d events, want 1", len(bus.ch))
	}
	if e := <-bus.ch; e.Freq != 1 {
		t.Errorf("kept event %d, want the first", e.Freq)
	}
}

func TestEventBusDrainsOnStop(t *testing.T) {
	bus := newEventBus(4)
	var calls int
	bus.subscribe(eventModulationChanged, func(radioEvent) { calls++ })
	bus.publish(radioEvent{Type: eventModulationChanged, Modulation: "am"})
	bus.publish(radioEvent{Type: eventModulationChanged, Modulation: "fm"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}
