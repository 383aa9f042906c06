package crdt

// Callback is notified after a mutation. Handlers must not block (§5:
// no synchronous network I/O, no unbounded loops) and must not panic the
// caller — the document recovers from a panicking callback, passes the
// panic value to the hook set with Document.OnSubscriberPanic (if any), and
// continues.
type Callback func(n Node)

// Unsubscribe removes a previously registered callback.
type Unsubscribe func()

type subscriberSet struct {
	next int
	subs map[int]Callback
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[int]Callback)}
}

func (s *subscriberSet) add(cb Callback) Unsubscribe {
	id := s.next
	s.next++
	s.subs[id] = cb
	return func() { delete(s.subs, id) }
}

func (s *subscriberSet) fire(n Node, recover_ func(any)) {
	for _, cb := range s.subs {
		callSafely(cb, n, recover_)
	}
}

func (s *subscriberSet) transferTo(dst *subscriberSet) {
	for _, cb := range s.subs {
		dst.add(cb)
	}
}

func (s *subscriberSet) empty() bool {
	return len(s.subs) == 0
}

func callSafely(cb Callback, n Node, onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	cb(n)
}
