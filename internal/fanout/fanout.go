// Package fanout distributes values to subscribers that only care about the newest one.
package fanout

import "sync"

// Hub broadcasts published values to its subscribers. The zero value is ready to use.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

// Subscribe registers a listener. When initial values are supplied the last one is
// delivered immediately. The returned function unsubscribes and closes the channel.
func (h *Hub[T]) Subscribe(initial ...T) (<-chan T, func()) {
	sub := newSubscriber[T]()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[*subscriber[T]]struct{})
	}
	h.subs[sub] = struct{}{}
	if len(initial) > 0 {
		sub.send(initial[len(initial)-1])
	}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sub) }
}

// Publish delivers v to every subscriber, replacing any value they have not read yet.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	targets := make([]*subscriber[T], 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.send(v)
	}
}

// Len reports the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes all subscriber channels. Later subscriptions receive a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

func (h *Hub[T]) remove(sub *subscriber[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{
		ch: make(chan T, 1),
	}
}

func (s *subscriber[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
		return
	default:
		// Drop oldest to make room for the new value.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- v:
		default:
		}
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
