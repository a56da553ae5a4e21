// Package hooks provides optional, observability-only lifecycle callbacks for
// the agent loop: a synchronous fan-out bus subscribers register against to
// see iteration/model/tool/terminal events without the loop itself knowing
// about logging, metrics, or UI concerns.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes agent lifecycle events to registered subscribers in a
	// fan-out pattern. The bus is safe for concurrent Publish/Register/Close.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error so a critical subscriber
	// (e.g. a persistence hook) can halt the run by returning one.
	Bus interface {
		// Publish delivers event to every registered subscriber, stopping
		// at the first error. The order across subscribers is not defined.
		Publish(ctx context.Context, event Event) error

		// Register adds sub and returns a Subscription that can be closed to
		// unregister it. Returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published Events.
	Subscriber interface {
		// HandleEvent processes one event. A non-nil return halts delivery to
		// any remaining subscribers and propagates to the publisher, which
		// the agent loop treats as a request to abort the run.
		HandleEvent(ctx context.Context, event Event) error
	}

	// Subscription represents an active registration; Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// NewBus constructs an empty, ready-to-use Bus.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: nil subscriber")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
