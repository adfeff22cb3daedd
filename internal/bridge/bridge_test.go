package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"go-social-chat/internal/auth"
	"go-social-chat/internal/conversation"
	"go-social-chat/internal/gateway"
	"go-social-chat/internal/gateway/memory"
	myMiddleware "go-social-chat/internal/middleware"
	"go-social-chat/internal/social"
)

type server struct {
	url   string
	svc   *auth.Service
	hub   *Hub
	store *memory.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.New()
	svc := auth.NewService(auth.NewMemoryRepository(), "secret", auth.WithBcryptCost(bcrypt.MinCost))

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	h := NewHandler(Deps{Auth: svc, Store: store, Social: social.NewService(store)}, hub)
	r := chi.NewRouter()
	r.With(myMiddleware.NewAuthMiddleware(svc).Optional).Get("/ws", h.ServeWs)

	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &server{url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", svc: svc, hub: hub, store: store}
}

// frame is either a Reply or an Event.
type frame struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	t      *testing.T
	ws     *websocket.Conn
	seq    int
	events []frame
}

func (s *server) dial(t *testing.T, token string) *client {
	t.Helper()
	url := s.url
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(c.t, c.ws.ReadJSON(&f))
	return f
}

// call sends one request and returns its reply. Events read on the way are
// kept for waitEvent.
func (c *client) call(op string, data any) frame {
	c.t.Helper()
	c.seq++
	id := fmt.Sprintf("r%d", c.seq)
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(Request{ID: id, Op: op, Data: raw}))

	for {
		f := c.read()
		if f.Event != "" {
			c.events = append(c.events, f)
			continue
		}
		if f.ID == id {
			return f
		}
	}
}

func (c *client) ok(op string, data any) json.RawMessage {
	c.t.Helper()
	f := c.call(op, data)
	require.True(c.t, f.OK, "%s failed: %s (%s)", op, f.Error, f.Code)
	return f.Data
}

// waitEvent returns the first event, buffered or new, that match accepts.
func (c *client) waitEvent(name string, match func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	for i, f := range c.events {
		if f.Event == name && match(f.Data) {
			c.events = c.events[i+1:]
			return f.Data
		}
	}
	c.events = nil
	for {
		f := c.read()
		if f.Event == name && match(f.Data) {
			return f.Data
		}
	}
}

func (c *client) register(email, name string) string {
	c.t.Helper()
	var v SessionView
	require.NoError(c.t, json.Unmarshal(c.ok("register", map[string]string{
		"email": email, "password": "password123", "displayName": name,
	}), &v))
	require.NotNil(c.t, v.Identity)
	return v.Identity.UID
}

func hasMessage(content string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var v MessagesView
		if json.Unmarshal(raw, &v) != nil {
			return false
		}
		for _, m := range v.Messages {
			if m.Content == content {
				return true
			}
		}
		return false
	}
}

func TestBridge_DirectConversationRoundTrip(t *testing.T) {
	s := newServer(t)
	ann := s.dial(t, "")
	bob := s.dial(t, "")

	annID := ann.register("ann@example.com", "Ann")
	bobID := bob.register("bob@example.com", "Bob")

	var conv gateway.Conversation
	require.NoError(t, json.Unmarshal(ann.ok("create_conversation", map[string]any{
		"participants": []string{bobID}, "type": "direct",
	}), &conv))
	assert.Equal(t, gateway.DirectConversationID(annID, bobID), conv.ID)
	assert.ElementsMatch(t, []string{annID, bobID}, conv.Participants)

	ann.ok("select_conversation", map[string]string{"conversationId": conv.ID})

	var sent struct {
		MessageID string `json:"messageId"`
	}
	require.NoError(t, json.Unmarshal(ann.ok("send_message", map[string]string{"content": "hello"}), &sent))
	assert.NotEmpty(t, sent.MessageID)

	var view MessagesView
	require.NoError(t, json.Unmarshal(ann.waitEvent(EventMessages, hasMessage("hello")), &view))
	assert.Equal(t, conv.ID, view.ConversationID)

	// Bob's list stream picks the conversation up with its preview.
	bob.waitEvent(EventConversations, func(raw json.RawMessage) bool {
		var list []gateway.Conversation
		return json.Unmarshal(raw, &list) == nil && len(list) == 1 && list[0].LastMessage == "hello"
	})

	bob.ok("select_conversation", map[string]string{"conversationId": conv.ID})
	bob.waitEvent(EventMessages, hasMessage("hello"))
}

func TestBridge_RejectsNonParticipants(t *testing.T) {
	s := newServer(t)
	ann := s.dial(t, "")
	bob := s.dial(t, "")
	carl := s.dial(t, "")

	ann.register("ann@example.com", "Ann")
	bobID := bob.register("bob@example.com", "Bob")
	carl.register("carl@example.com", "Carl")

	var conv gateway.Conversation
	require.NoError(t, json.Unmarshal(ann.ok("create_conversation", map[string]any{
		"participants": []string{bobID},
	}), &conv))

	f := carl.call("select_conversation", map[string]string{"conversationId": conv.ID})
	assert.False(t, f.OK)
	assert.Equal(t, "not_authorized", f.Code)
}

func TestBridge_SignInOnBusySocketDropsPreviousUser(t *testing.T) {
	s := newServer(t)
	ann := s.dial(t, "")
	bob := s.dial(t, "")

	ann.register("ann@example.com", "Ann")
	bobID := bob.register("bob@example.com", "Bob")

	var conv gateway.Conversation
	require.NoError(t, json.Unmarshal(ann.ok("create_conversation", map[string]any{
		"participants": []string{bobID},
	}), &conv))
	ann.ok("select_conversation", map[string]string{"conversationId": conv.ID})

	carlID := ann.register("carl@example.com", "Carl")
	require.NotContains(t, conv.Participants, carlID)

	f := ann.call("send_message", map[string]string{"content": "not mine"})
	assert.False(t, f.OK)
	assert.Equal(t, "no_active_conversation", f.Code)

	f = ann.call("select_conversation", map[string]string{"conversationId": conv.ID})
	assert.Equal(t, "not_authorized", f.Code)

	got, err := s.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastMessage)
}

func TestBridge_ErrorReplies(t *testing.T) {
	s := newServer(t)
	c := s.dial(t, "")

	f := c.call("no_such_op", nil)
	assert.False(t, f.OK)
	assert.Equal(t, "invalid_argument", f.Code)

	f = c.call("select_conversation", map[string]string{"conversationId": "x"})
	assert.Equal(t, "not_authenticated", f.Code)

	f = c.call("send_message", map[string]string{"content": "hi"})
	assert.Equal(t, "no_active_conversation", f.Code)
	assert.Equal(t, "no chat selected", f.Error)

	f = c.call("login", map[string]string{"email": "nobody@example.com", "password": "password123"})
	assert.Equal(t, "auth_failure", f.Code)

	c.register("ann@example.com", "Ann")
	f = c.call("send_message", map[string]string{"content": "hi"})
	assert.Equal(t, "no_active_conversation", f.Code)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = c.read()
	for f.Event != "" {
		f = c.read()
	}
	assert.Equal(t, "invalid_argument", f.Code)
}

func TestBridge_RestoresSessionFromToken(t *testing.T) {
	s := newServer(t)
	first := s.dial(t, "")
	uid := first.register("ann@example.com", "Ann")

	a, err := s.svc.SignIn(context.Background(), "ann@example.com", "password123")
	require.NoError(t, err)
	token, err := s.svc.IssueToken(a)
	require.NoError(t, err)

	c := s.dial(t, token)
	var v SessionView
	require.NoError(t, json.Unmarshal(c.ok("check_auth", nil), &v))
	require.NotNil(t, v.Identity)
	assert.Equal(t, uid, v.Identity.UID)
	require.NotNil(t, v.Profile)
	assert.Equal(t, "Ann", v.Profile.DisplayName)
}

func TestBridge_RejectsBadToken(t *testing.T) {
	s := newServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(s.url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBridge_AnonymousCheckAuth(t *testing.T) {
	s := newServer(t)
	c := s.dial(t, "")

	var v SessionView
	require.NoError(t, json.Unmarshal(c.ok("check_auth", nil), &v))
	assert.Nil(t, v.Identity)
	assert.Nil(t, v.Profile)
}

func TestBridge_HubCountsConnections(t *testing.T) {
	s := newServer(t)
	c := s.dial(t, "")
	c.ok("check_auth", nil)
	assert.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	c.ws.Close()
	assert.Eventually(t, func() bool { return s.hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{gateway.AuthError(errors.New("auth/wrong-password")), "auth_failure"},
		{gateway.ErrNotAuthenticated, "not_authenticated"},
		{fmt.Errorf("%w: admins only", gateway.ErrNotAuthorized), "not_authorized"},
		{gateway.ErrNoActiveConversation, "no_active_conversation"},
		{gateway.GatewayError(gateway.ErrNotFound), "not_found"},
		{gateway.ErrAlreadyExists, "already_exists"},
		{gateway.Invalid("bad"), "invalid_argument"},
		{gateway.GatewayError(errors.New("connection reset")), "gateway_failure"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorCode(tc.err), tc.err.Error())
	}
}

func TestOnConversationsDropsOlderStates(t *testing.T) {
	c := &Conn{send: make(chan []byte, 8), ctx: context.Background(), log: zap.NewNop()}
	conv := &gateway.Conversation{ID: "a_b"}
	older := conversation.State{Selected: conv, Messages: []gateway.Message{{Content: "old"}}, ListRevision: 1, MessagesRevision: 1}
	newer := conversation.State{Selected: conv, Messages: []gateway.Message{{Content: "old"}, {Content: "new"}}, ListRevision: 1, MessagesRevision: 2}

	c.onConversations(newer)
	c.onConversations(older)

	var frames []frame
	for len(c.send) > 0 {
		var f frame
		require.NoError(t, json.Unmarshal(<-c.send, &f))
		frames = append(frames, f)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, EventConversations, frames[0].Event)
	assert.Equal(t, EventMessages, frames[1].Event)
	assert.True(t, hasMessage("new")(frames[1].Data))
}
