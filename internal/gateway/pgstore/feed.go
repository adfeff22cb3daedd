package pgstore

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
)

// Feed fans document changes out over Redis pub/sub so that live queries in
// every server instance re-run after a write, wherever it happened.
type Feed struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewFeed(rdb *redis.Client, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{rdb: rdb, log: log}
}

// Publish announces that the documents behind topics changed. The write has
// already committed, so a failed publish is logged rather than returned.
func (f *Feed) Publish(ctx context.Context, id string, topics ...string) {
	for _, topic := range topics {
		if err := f.rdb.Publish(ctx, topic, id).Err(); err != nil {
			f.log.Warn("❌ change publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// watch runs query once, then again after every message on topic, handing
// each result to fn. Messages that pile up while a query runs collapse into
// one re-run.
func watch[T any](ctx context.Context, f *Feed, topic string, query func(ctx context.Context) ([]T, error), fn gateway.SnapshotFunc[T]) (gateway.Subscription, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pubsub := f.rdb.Subscribe(ctx, topic)
	// Wait for the subscription to be live so no change slips in between the
	// first query and the first message.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}
	ch := pubsub.Channel()

	deliver := func() {
		list, err := query(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fn(nil, err)
			return
		}
		fn(list, nil)
	}

	go func() {
		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case <-ch:
					default:
						break drain
					}
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return gateway.SubscriptionFunc(func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil {
				f.log.Debug("pubsub close", zap.String("topic", topic), zap.Error(err))
			}
		})
	}), nil
}
