package memory

import (
	"sync"

	"go-social-chat/internal/gateway"
)

type watcher interface {
	notify()
}

// liveQuery re-runs its query every time its topic is published and hands the
// full result to fn. Kicks coalesce: a burst of writes yields one snapshot of
// the latest state, never a stale one.
type liveQuery[T any] struct {
	query func() []T
	fn    gateway.SnapshotFunc[T]
	kick  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newLiveQuery[T any](query func() []T, fn gateway.SnapshotFunc[T]) *liveQuery[T] {
	return &liveQuery[T]{
		query: query,
		fn:    fn,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *liveQuery[T]) notify() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *liveQuery[T]) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.kick:
			snapshot := q.query()
			select {
			case <-q.done:
				return
			default:
			}
			q.fn(snapshot, nil)
		}
	}
}

func (q *liveQuery[T]) stop() {
	q.once.Do(func() { close(q.done) })
}

// hub tracks live queries by topic.
type hub struct {
	mu     sync.Mutex
	topics map[string]map[watcher]struct{}
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[watcher]struct{})}
}

func (h *hub) add(topic string, w watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.topics[topic]
	if set == nil {
		set = make(map[watcher]struct{})
		h.topics[topic] = set
	}
	set[w] = struct{}{}
}

func (h *hub) remove(topic string, w watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.topics[topic]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *hub) publish(topics ...string) {
	h.mu.Lock()
	var targets []watcher
	for _, t := range topics {
		for w := range h.topics[t] {
			targets = append(targets, w)
		}
	}
	h.mu.Unlock()

	for _, w := range targets {
		w.notify()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.topics {
		n += len(set)
	}
	return n
}

func subscribe[T any](h *hub, topic string, query func() []T, fn gateway.SnapshotFunc[T]) gateway.Subscription {
	q := newLiveQuery(query, fn)
	h.add(topic, q)
	go q.run()
	q.notify()
	return gateway.SubscriptionFunc(func() {
		q.stop()
		h.remove(topic, q)
	})
}
