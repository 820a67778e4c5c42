package fanout

import "sync"

// KeyedHub broadcasts values that are superseded per key rather than globally:
// a slow subscriber skips stale values of a key but never loses the newest value
// of any key. Keys are delivered in the order they first became pending.
type KeyedHub[K comparable, T any] struct {
	key func(T) K

	mu     sync.Mutex
	subs   map[*keyedSubscriber[K, T]]struct{}
	closed bool
}

// NewKeyedHub creates a hub that groups values by key.
func NewKeyedHub[K comparable, T any](key func(T) K) *KeyedHub[K, T] {
	return &KeyedHub[K, T]{key: key}
}

// Subscribe registers a listener. Every initial value is queued for delivery,
// so a subscriber can start from the newest value of each key. The returned
// function unsubscribes and closes the channel.
func (h *KeyedHub[K, T]) Subscribe(initial ...T) (<-chan T, func()) {
	sub := newKeyedSubscriber[K, T]()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.stop()
		go sub.pump()
		return sub.out, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[*keyedSubscriber[K, T]]struct{})
	}
	h.subs[sub] = struct{}{}
	for _, v := range initial {
		sub.offer(h.key(v), v)
	}
	h.mu.Unlock()

	go sub.pump()
	return sub.out, func() { h.remove(sub) }
}

// Publish queues v for every subscriber, replacing an unread value with the same key.
func (h *KeyedHub[K, T]) Publish(v T) {
	k := h.key(v)

	h.mu.Lock()
	targets := make([]*keyedSubscriber[K, T], 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.offer(k, v)
	}
}

// Len reports the number of active subscribers.
func (h *KeyedHub[K, T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscriber. Later subscriptions receive a closed channel.
func (h *KeyedHub[K, T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (h *KeyedHub[K, T]) remove(sub *keyedSubscriber[K, T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.stop()
}

type pendingValue[T any] struct {
	value T
	seq   uint64
}

type keyedSubscriber[K comparable, T any] struct {
	out  chan T
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending map[K]pendingValue[T]
	order   []K
	seq     uint64
	stopped bool
}

func newKeyedSubscriber[K comparable, T any]() *keyedSubscriber[K, T] {
	return &keyedSubscriber[K, T]{
		out:     make(chan T),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[K]pendingValue[T]),
	}
}

func (s *keyedSubscriber[K, T]) offer(k K, v T) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.seq++
	if _, queued := s.pending[k]; !queued {
		s.order = append(s.order, k)
	}
	s.pending[k] = pendingValue[T]{value: v, seq: s.seq}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// peek returns the oldest pending key without removing it.
func (s *keyedSubscriber[K, T]) peek() (K, pendingValue[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		var zero K
		return zero, pendingValue[T]{}, false
	}
	k := s.order[0]
	return k, s.pending[k], true
}

// ack drops k once the value with seq has been delivered. A newer value
// offered meanwhile stays queued.
func (s *keyedSubscriber[K, T]) ack(k K, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[k]; !ok || p.seq != seq {
		return
	}
	delete(s.pending, k)
	s.order = s.order[1:]
}

func (s *keyedSubscriber[K, T]) pump() {
	defer close(s.out)
	for {
		k, p, ok := s.peek()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		// A pending wake means the peeked value may already be superseded.
		select {
		case <-s.wake:
			continue
		default:
		}
		select {
		case s.out <- p.value:
			s.ack(k, p.seq)
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *keyedSubscriber[K, T]) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
}
