package sessionstate

import (
	"context"
	"sync"
	"time"

	"github.com/gaspardpetit/plannerbridge/internal/bridge"
)

// Source is the client whose state is published.
type Source interface {
	Snapshot() bridge.Snapshot
	Subscribe(func(bridge.Event)) func()
}

// Publisher stores a fresh State whenever the client's lifecycle changes.
// Events only mark the state dirty; the store is written from Run, so a
// slow store never holds up the session's event delivery.
type Publisher struct {
	src   Source
	store Store
	now   func() time.Time
	unsub func()

	dirty    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPublisher follows src until Stop. Nothing is stored until Run starts;
// the first write happens as soon as it does.
func NewPublisher(src Source, store Store) *Publisher {
	p := &Publisher{
		src:   src,
		store: store,
		now:   time.Now,
		dirty: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	p.markDirty()
	p.unsub = src.Subscribe(func(ev bridge.Event) {
		if ev.Kind == bridge.EventMessage {
			return
		}
		p.markDirty()
	})
	return p
}

// markDirty never blocks; pending marks collapse into one.
func (p *Publisher) markDirty() {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Publish stores the current state immediately.
func (p *Publisher) Publish() {
	p.store.Store(FromSnapshot(p.src.Snapshot(), p.now()))
}

// Run writes the state after lifecycle events and, when every is positive,
// on a fixed interval so counters that change without an event (pending
// requests) stay fresh. It returns when ctx ends or Stop is called.
func (p *Publisher) Run(ctx context.Context, every time.Duration) {
	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-p.dirty:
			p.Publish()
		case <-tick:
			p.Publish()
		}
	}
}

// Stop detaches the publisher from its source and ends Run.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.unsub()
		close(p.stop)
	})
}
