package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-social-chat/internal/auth"
	"go-social-chat/internal/conversation"
	"go-social-chat/internal/gateway"
	"go-social-chat/internal/presence"
	"go-social-chat/internal/session"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum message size allowed from peer.
	sendBuffer     = 256
)

// Conn is one browser tab: a WebSocket plus the containers it drives. Every
// connection signs in on its own.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	auth          *auth.Client
	session       *session.Container
	conversations *conversation.Container
	presence      *presence.Watcher
	deps          Deps

	subs []gateway.Subscription

	mu      sync.Mutex
	listRev uint64
	msgRev  uint64
}

func newConn(h *Handler, ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	log := h.deps.Log.With(zap.String("conn", id))
	ctx, cancel := context.WithCancel(context.Background())

	client := auth.NewClient(h.deps.Auth)
	sess := session.New(client, h.deps.Store, session.WithLogger(log))
	c := &Conn{
		id:            id,
		hub:           h.hub,
		ws:            ws,
		send:          make(chan []byte, sendBuffer),
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		auth:          client,
		session:       sess,
		conversations: conversation.New(h.deps.Store, sess, conversation.WithLogger(log)),
		presence:      presence.NewWatcher(h.deps.Store, log),
		deps:          h.deps,
	}

	c.subs = append(c.subs,
		c.session.OnChange(func(s session.State) {
			c.push(EventSession, sessionView(s))
		}),
		c.conversations.OnChange(c.onConversations),
		c.presence.OnChange(func(list []gateway.Profile) {
			c.push(EventOnline, list)
		}),
	)
	return c
}

// onConversations forwards the parts of s that moved forward. Listeners run on
// different store goroutines, so an older state can arrive after a newer one;
// revisions only grow, and anything not newer than what was pushed is dropped.
func (c *Conn) onConversations(s conversation.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.ListRevision > c.listRev {
		c.listRev = s.ListRevision
		list := s.Conversations
		if list == nil {
			list = []gateway.Conversation{}
		}
		c.push(EventConversations, list)
	}
	if s.MessagesRevision > c.msgRev {
		c.msgRev = s.MessagesRevision
		c.push(EventMessages, messagesView(s))
	}
}

func (c *Conn) push(event string, data any) {
	c.write(Event{Event: event, Data: data})
}

// write queues a frame. A peer too slow to drain its buffer is dropped.
func (c *Conn) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("❌ frame encode failed", zap.Error(err))
		return
	}
	select {
	case <-c.ctx.Done():
	case c.send <- b:
	default:
		c.log.Warn("send buffer full, dropping connection")
		go c.close()
	}
}

// close tears the connection down once: subscriptions first, then the socket.
func (c *Conn) close() {
	c.once.Do(func() {
		c.cancel()
		for _, sub := range c.subs {
			sub.Unsubscribe()
		}
		c.presence.Stop()
		c.conversations.Dispose()
		c.session.Dispose()
		c.ws.Close()
		c.hub.remove(c)
		c.log.Info("🔌 connection closed")
	})
}

// readPump pumps requests from the websocket connection to the dispatcher.
// Requests are handled one at a time, in arrival order.
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.write(Reply{OK: false, Error: "malformed frame", Code: "invalid_argument"})
			continue
		}
		c.write(c.dispatch(req))
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
