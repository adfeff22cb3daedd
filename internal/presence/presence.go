// Package presence mirrors the set of online users.
package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/metrics"
)

// Source is the live query the watcher follows.
type Source interface {
	SubscribeOnlineUsers(ctx context.Context, fn gateway.SnapshotFunc[gateway.Profile]) (gateway.Subscription, error)
}

// Watcher holds at most one online-users subscription.
type Watcher struct {
	src Source
	log *zap.Logger

	mu     sync.Mutex
	online []gateway.Profile
	sub    gateway.Subscription
	gen    uint64

	listeners gateway.Listeners[[]gateway.Profile]
}

func NewWatcher(src Source, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{src: src, log: log}
}

// Watch (re)starts the online-users subscription.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	old := w.sub
	w.sub = nil
	w.gen++
	gen := w.gen
	w.mu.Unlock()
	w.cancel(old)

	sub, err := w.src.SubscribeOnlineUsers(ctx, func(list []gateway.Profile, err error) {
		w.apply(gen, list, err)
	})
	if err != nil {
		metrics.GatewayFailures.WithLabelValues("presence.watch").Inc()
		return gateway.GatewayError(err)
	}
	metrics.ActiveSubscriptions.WithLabelValues(metrics.StreamOnlineUsers).Inc()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		w.cancel(sub)
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return nil
}

func (w *Watcher) apply(gen uint64, list []gateway.Profile, err error) {
	if err != nil {
		w.log.Warn("online users snapshot failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		metrics.StaleSnapshots.WithLabelValues(metrics.StreamOnlineUsers).Inc()
		return
	}
	w.online = list
	out := append([]gateway.Profile(nil), list...)
	w.mu.Unlock()

	metrics.Snapshots.WithLabelValues(metrics.StreamOnlineUsers).Inc()
	w.listeners.Emit(out)
}

func (w *Watcher) cancel(sub gateway.Subscription) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	metrics.ActiveSubscriptions.WithLabelValues(metrics.StreamOnlineUsers).Dec()
}

// Stop cancels the subscription and forgets the last snapshot.
func (w *Watcher) Stop() {
	w.mu.Lock()
	old := w.sub
	w.sub = nil
	w.gen++
	w.online = nil
	w.mu.Unlock()
	w.cancel(old)
}

func (w *Watcher) Online() []gateway.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]gateway.Profile(nil), w.online...)
}

func (w *Watcher) OnChange(fn func([]gateway.Profile)) gateway.Subscription {
	return w.listeners.Add(fn)
}
