package inproc

import (
	"context"
	"errors"
	"sync"

	"pmsim/internal/domain"
)

var (
	ErrSubscriberNotRegistered = errors.New("subscriber is not registered in bus")
	ErrSubscriberQueueFull     = errors.New("subscriber queue is full")
)

// Bus carries run events from replicas to named subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Event
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Event),
		buffer: buffer,
	}
}

func (b *Bus) Register(name string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[name] = ch
	return ch
}

// Unregister closes the subscriber's channel once every in-flight publish
// has returned.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(ch)
}

// Publish delivers without blocking.
func (b *Bus) Publish(to string, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[to]
	if !ok {
		return ErrSubscriberNotRegistered
	}

	select {
	case ch <- ev:
		return nil
	default:
		return ErrSubscriberQueueFull
	}
}

// PublishWait blocks until the subscriber has room or ctx is done.
func (b *Bus) PublishWait(ctx context.Context, to string, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[to]
	if !ok {
		return ErrSubscriberNotRegistered
	}

	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
