package gateway

import "sync"

// Listeners is a set of change callbacks. The zero value is ready to use.
type Listeners[T any] struct {
	mu     sync.Mutex
	fns    map[int]func(T)
	nextID int
}

// Add registers fn until the returned subscription is cancelled.
func (l *Listeners[T]) Add(fn func(T)) Subscription {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	return SubscriptionFunc(func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	})
}

// Emit calls every listener with v. It must not be called with a container
// lock held.
func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *Listeners[T]) Clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
