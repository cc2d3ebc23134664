package main

import (
	"context"
	"sync"
	"time"
)

type radioEventType string

const (
	eventManualRetune      radioEventType = "manual_retune"
	eventModulationChanged radioEventType = "modulation_changed"
	eventProfileChanged    radioEventType = "profile_changed"
)

type radioEvent struct {
	Type       radioEventType
	Timestamp  time.Time
	Freq       int64
	Modulation string
}

type radioEventHandler func(radioEvent)

// eventBus delivers radio events on its own goroutine, so the CI-V decoder
// can publish while holding its state lock.
type eventBus struct {
	ch   chan radioEvent
	mu   sync.RWMutex
	subs map[radioEventType][]radioEventHandler
}

func newEventBus(bufSize int) *eventBus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &eventBus{
		ch:   make(chan radioEvent, bufSize),
		subs: make(map[radioEventType][]radioEventHandler),
	}
}

func (b *eventBus) subscribe(t radioEventType, h radioEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// publish never blocks. Events are dropped when the buffer is full.
func (b *eventBus) publish(e radioEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case b.ch <- e:
	default:
		log.Warn("event bus full, dropping ", string(e.Type))
	}
}

// run dispatches events until ctx is done, then drains what is left.
func (b *eventBus) run(ctx context.Context) error {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return nil
				}
			}
		}
	}
}

func (b *eventBus) dispatch(e radioEvent) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler for ", string(e.Type), " panicked: ", r)
				}
			}()
			h(e)
		}()
	}
}
