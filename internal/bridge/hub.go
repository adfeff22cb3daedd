package bridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"go-social-chat/internal/metrics"
)

// Hub tracks the open connections so they can be counted and closed
// together on shutdown.
type Hub struct {
	clients    map[*Conn]bool
	register   chan *Conn
	unregister chan *Conn
	done       chan struct{}
	count      atomic.Int64
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns the client set until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			metrics.BridgeConnections.Inc()

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.count.Add(-1)
				metrics.BridgeConnections.Dec()
			}

		case <-ctx.Done():
			h.log.Info("🛑 closing bridge connections", zap.Int("count", len(h.clients)))
			for c := range h.clients {
				delete(h.clients, c)
				metrics.BridgeConnections.Dec()
				h.count.Add(-1)
				go c.close()
			}
			return
		}
	}
}

// Len reports the open connections.
func (h *Hub) Len() int { return int(h.count.Load()) }

func (h *Hub) add(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
