package session

import (
	"sync"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// EventKind classifies controller events.
type EventKind string

const (
	// EventStatus reports a lifecycle transition.
	EventStatus EventKind = "status"
	// EventError reports a failure that was not returned to a caller, or
	// was returned and should also reach observers.
	EventError EventKind = "error"
	// EventStream forwards a live channel event.
	EventStream EventKind = "stream"
)

// Event is delivered to Subscribe callbacks.
type Event struct {
	Kind      EventKind
	ProfileID string
	From      domain.Status
	To        domain.Status
	Err       error
	Stream    *livechannel.Event
}

type eventBus struct {
	logger logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[uint64]func(Event))
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, ev)
	}
}

func (b *eventBus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("session subscriber panicked", "event", ev.Kind, "panic", r)
		}
	}()
	fn(ev)
}
