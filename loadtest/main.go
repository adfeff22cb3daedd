package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	wsURL     = flag.String("url", "ws://localhost:8080/ws", "bridge websocket url")
	pairCount = flag.Int("pairs", 50, "number of user pairs") // ⚠️ Start small. bcrypt on register dominates.
	msgCount  = flag.Int("messages", 20, "messages per user")
)

type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

type frame struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type user struct {
	name string
	uid  string
	conn *websocket.Conn
	seq  int
}

var (
	logger *zap.Logger
	sent   atomic.Int64
	failed atomic.Int64
)

// runID keeps accounts from separate runs apart.
var runID = uuid.NewString()[:8]

func main() {
	flag.Parse()
	logger, _ = zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("🔥 STARTING STRESS TEST", zap.Int("users", *pairCount*2), zap.Int("messages_each", *msgCount))
	start := time.Now()
	var wg sync.WaitGroup

	// We will create pairs: User 0a talks to User 0b, User 1a talks to User 1b...
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	logger.Info("✅ LOAD TEST COMPLETE",
		zap.Int64("sent", sent.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)))
}

func runPair(pairID int) {
	a, err := connect(fmt.Sprintf("u_%s_%d_a", runID, pairID))
	if err != nil {
		logger.Warn("❌ connect failed", zap.Error(err))
		return
	}
	defer a.conn.Close()
	b, err := connect(fmt.Sprintf("u_%s_%d_b", runID, pairID))
	if err != nil {
		logger.Warn("❌ connect failed", zap.Error(err))
		return
	}
	defer b.conn.Close()

	// User A starts the conversation with User B
	raw, err := a.call("create_conversation", map[string]any{"participants": []string{b.uid}, "type": "direct"})
	if err != nil {
		logger.Warn("❌ create conversation failed", zap.String("user", a.name), zap.Error(err))
		return
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &conv); err != nil {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, a, conv.ID)
	go spamChat(&wsWg, b, conv.ID)
	wsWg.Wait()
}

// connect opens a bridge connection and registers a fresh account on it.
func connect(name string) (*user, error) {
	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		return nil, err
	}
	u := &user{name: name, conn: conn}

	raw, err := u.call("register", map[string]string{
		"email":       name + "@load.test",
		"password":    "password123",
		"displayName": name,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	var session struct {
		Identity struct {
			UID string `json:"uid"`
		} `json:"identity"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		conn.Close()
		return nil, err
	}
	u.uid = session.Identity.UID
	return u, nil
}

// call sends one request and skips pushed events until its reply arrives.
func (u *user) call(op string, data any) (json.RawMessage, error) {
	u.seq++
	id := fmt.Sprintf("%s-%d", u.name, u.seq)
	if err := u.conn.WriteJSON(request{ID: id, Op: op, Data: data}); err != nil {
		return nil, err
	}
	for {
		u.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var f frame
		if err := u.conn.ReadJSON(&f); err != nil {
			return nil, err
		}
		if f.Event != "" || f.ID != id {
			continue
		}
		if !f.OK {
			return nil, fmt.Errorf("%s: %s", op, f.Error)
		}
		return f.Data, nil
	}
}

func spamChat(wg *sync.WaitGroup, u *user, convID string) {
	defer wg.Done()

	if _, err := u.call("select_conversation", map[string]string{"conversationId": convID}); err != nil {
		logger.Warn("❌ select failed", zap.String("user", u.name), zap.Error(err))
		return
	}

	for i := 0; i < *msgCount; i++ {
		_, err := u.call("send_message", map[string]string{
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, u.name),
		})
		if err != nil {
			failed.Add(1)
			logger.Warn("❌ send failed", zap.String("user", u.name), zap.Error(err))
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	logger.Info("✅ finished sending", zap.String("user", u.name), zap.Int("messages", *msgCount))
}
