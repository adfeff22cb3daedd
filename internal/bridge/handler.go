// Package bridge exposes the state containers to browsers over a WebSocket.
// Each connection gets its own session, conversation container and presence
// watcher; requests drive the containers and every state change is pushed
// back as an event.
package bridge

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-social-chat/internal/auth"
	"go-social-chat/internal/gateway"
	myMiddleware "go-social-chat/internal/middleware"
	"go-social-chat/internal/social"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// Deps are the services shared by every connection.
type Deps struct {
	Auth   *auth.Service
	Store  gateway.Store
	Social *social.Service
	Log    *zap.Logger
}

type Handler struct {
	deps Deps
	hub  *Hub
}

func NewHandler(deps Deps, hub *Hub) *Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Handler{deps: deps, hub: hub}
}

// ServeWs upgrades the request. A token put in the context by the auth
// middleware restores that session on the new connection; the browser still
// calls check_auth to load it.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := newConn(h, ws)
	if token := myMiddleware.Token(r.Context()); token != "" {
		if err := c.auth.Restore(r.Context(), token); err != nil {
			c.log.Warn("token restore failed", zap.Error(err))
		}
	}

	if !h.hub.add(c) {
		c.close()
		return
	}
	c.log.Info("🔌 connection opened")

	go c.writePump()
	go c.readPump()
}
