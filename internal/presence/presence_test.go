package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/gateway/memory"
)

func uids(list []gateway.Profile) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.UID)
	}
	return out
}

func TestWatcherFollowsPresence(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateProfile(ctx, &gateway.Profile{UID: "b", Status: gateway.Online}))
	require.NoError(t, store.CreateProfile(ctx, &gateway.Profile{UID: "a", Status: gateway.Offline}))

	w := NewWatcher(store, nil)
	require.NoError(t, w.Watch(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"b"}, uids(w.Online()))
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, store.SetPresence(ctx, "a", gateway.Online, time.Now()))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"a", "b"}, uids(w.Online()))
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, store.SetPresence(ctx, "b", gateway.Offline, time.Now()))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"a"}, uids(w.Online()))
	}, time.Second, 10*time.Millisecond)
}

func TestWatchTwiceKeepsOneSubscription(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	w := NewWatcher(store, nil)

	require.NoError(t, w.Watch(ctx))
	require.NoError(t, w.Watch(ctx))
	assert.Equal(t, 1, store.LiveQueries())

	w.Stop()
	assert.Equal(t, 0, store.LiveQueries())
	assert.Empty(t, w.Online())
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateProfile(ctx, &gateway.Profile{UID: "a", Status: gateway.Online}))

	got := make(chan []gateway.Profile, 8)
	w := NewWatcher(store, nil)
	sub := w.OnChange(func(list []gateway.Profile) { got <- list })
	defer sub.Unsubscribe()
	require.NoError(t, w.Watch(ctx))
	defer w.Stop()

	select {
	case list := <-got:
		assert.Equal(t, []string{"a"}, uids(list))
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}
