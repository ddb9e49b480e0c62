package realtime

import "sync"

// handlerList keeps listeners in registration order and hands out
// unsubscribe funcs, so consumers can deterministically detach during
// teardown instead of leaking closures.
type handlerList[T any] struct {
	mu      sync.Mutex
	entries []handlerEntry[T]
	next    int
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.entries = append(l.entries, handlerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// dispatch invokes every listener in registration order with a snapshot of
// the list, so a handler unsubscribing mid-dispatch cannot skip others.
func (l *handlerList[T]) dispatch(v T) {
	l.mu.Lock()
	snapshot := make([]handlerEntry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}
