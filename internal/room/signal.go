package room

import "sync"

// Unsubscribe detaches a previously registered callback.
type Unsubscribe func()

// signal is a small generic pub-sub primitive backing the six subscription
// channels a Client exposes (§4.7: status, presence, others, cursors,
// storage, message). storage itself is forwarded straight to the
// document's own subscribe mechanism rather than routed through a signal.
type signal[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

func newSignal[T any]() *signal[T] {
	return &signal[T]{subs: make(map[int]func(T))}
}

func (s *signal[T]) Subscribe(cb func(T)) Unsubscribe {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *signal[T]) fire(v T) {
	s.mu.Lock()
	cbs := make([]func(T), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(v)
	}
}
