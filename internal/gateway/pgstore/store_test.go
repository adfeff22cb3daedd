package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-social-chat/internal/db"
	"go-social-chat/internal/gateway"
)

func TestConversationTopicsDeduplicate(t *testing.T) {
	got := conversationTopics([]string{"a", "b", "a"})
	assert.Equal(t, []string{"user:a:conversations", "user:b:conversations"}, got)
}

// newIntegrationStore connects to the databases named by TEST_DB_DSN and
// TEST_REDIS_ADDR, skipping the test when they are not set.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn, addr := os.Getenv("TEST_DB_DSN"), os.Getenv("TEST_REDIS_ADDR")
	if dsn == "" || addr == "" {
		t.Skip("TEST_DB_DSN and TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	database, err := db.NewDatabase(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate(ctx))
	for _, table := range []string{"messages", "conversations", "profiles", "friend_requests", "notifications", "groups", "voice_rooms"} {
		_, err := database.Conn.ExecContext(ctx, "TRUNCATE "+table+" CASCADE")
		require.NoError(t, err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	return New(database.Conn, NewFeed(rdb, nil))
}

func TestMessagesLiveQuery(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)

	_, err := s.CreateConversation(ctx, &gateway.Conversation{ID: "a_b", Participants: []string{"a", "b"}, Kind: gateway.Direct})
	require.NoError(t, err)

	snapshots := make(chan []gateway.Message, 16)
	sub, err := s.SubscribeMessages(ctx, "a_b", func(list []gateway.Message, err error) {
		if err == nil {
			snapshots <- list
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := <-snapshots
	assert.Empty(t, first)

	require.NoError(t, s.AddMessage(ctx, &gateway.Message{ID: gateway.NewMessageID(), ConversationID: "a_b", SenderID: "a", Content: "hi"}))
	require.Eventually(t, func() bool {
		select {
		case list := <-snapshots:
			return len(list) == 1 && list[0].Content == "hi"
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	err = s.AddMessage(ctx, &gateway.Message{ID: gateway.NewMessageID(), ConversationID: "missing"})
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)
	require.NoError(t, s.CreateProfile(ctx, &gateway.Profile{UID: "u1"}))

	err := s.Batch(ctx, func(b gateway.Batch) error {
		b.AddFriend("u1", "u2")
		b.AddFriend("u2", "u1")
		return nil
	})
	require.ErrorIs(t, err, gateway.ErrNotFound)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.Friends)
	assert.Equal(t, 0, p.Stats.FriendsCount)
}

func TestBatchAcceptsPendingRequestOnce(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)
	for _, uid := range []string{"u1", "u2"} {
		require.NoError(t, s.CreateProfile(ctx, &gateway.Profile{UID: uid}))
	}
	require.NoError(t, s.CreateFriendRequest(ctx, &gateway.FriendRequest{ID: "u1_u2", FromUserID: "u1", ToUserID: "u2", Status: gateway.RequestPending}))

	accept := func(b gateway.Batch) error {
		b.AcceptFriendRequest("u1_u2", time.Now())
		b.AddFriend("u1", "u2")
		b.AddFriend("u2", "u1")
		return nil
	}
	require.NoError(t, s.Batch(ctx, accept))
	require.ErrorIs(t, s.Batch(ctx, accept), gateway.ErrAlreadyExists)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, p.Friends)
	assert.Equal(t, 1, p.Stats.FriendsCount)
}

func TestCreateConversationIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)

	first, err := s.CreateConversation(ctx, &gateway.Conversation{ID: "a_b", Participants: []string{"a", "b"}})
	require.NoError(t, err)
	again, err := s.CreateConversation(ctx, &gateway.Conversation{ID: "a_b", Participants: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, first.Participants, again.Participants)
}
