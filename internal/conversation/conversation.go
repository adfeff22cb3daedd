// Package conversation keeps a client's conversation list, the selected
// conversation and its live message sequence in sync with the store.
//
// The container holds at most one conversation-list subscription and one
// message subscription. A subscription is always cancelled before its
// replacement is opened, and every snapshot carries the generation of the
// subscription that produced it, so a push from a replaced subscription is
// dropped even if it was already in flight.
package conversation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/metrics"
)

// Store is the part of the document store the container writes to.
type Store interface {
	gateway.ConversationStore
	IncrementMessagesSent(ctx context.Context, uid string) error
}

// ProfileSource yields the signed-in profile, nil when nobody is signed in.
// *session.Container satisfies it.
type ProfileSource interface {
	Profile() *gateway.Profile
}

type State struct {
	Conversations []gateway.Conversation `json:"conversations"`
	Selected      *gateway.Conversation  `json:"selected"`
	Messages      []gateway.Message      `json:"messages"`
	Loading       bool                   `json:"loading"`
	LastError     error                  `json:"-"`

	// Revisions grow each time the list or the messages are replaced.
	ListRevision     uint64 `json:"-"`
	MessagesRevision uint64 `json:"-"`
}

type Container struct {
	store   Store
	profile ProfileSource
	log     *zap.Logger
	now     func() time.Time

	mu            sync.Mutex
	conversations []gateway.Conversation
	selected      *gateway.Conversation
	messages      []gateway.Message
	loading       bool
	lastErr       error
	listRev       uint64
	msgRev        uint64

	listSub gateway.Subscription
	listGen uint64
	msgSub  gateway.Subscription
	msgGen  uint64

	listeners gateway.Listeners[State]
}

type Option func(*Container)

func WithLogger(l *zap.Logger) Option       { return func(c *Container) { c.log = l } }
func WithClock(now func() time.Time) Option { return func(c *Container) { c.now = now } }

func New(store Store, profile ProfileSource, opts ...Option) *Container {
	c := &Container{
		store:   store,
		profile: profile,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Container) stateLocked() State {
	s := State{
		Conversations:    append([]gateway.Conversation(nil), c.conversations...),
		Messages:         append([]gateway.Message(nil), c.messages...),
		Loading:          c.loading,
		LastError:        c.lastErr,
		ListRevision:     c.listRev,
		MessagesRevision: c.msgRev,
	}
	if c.selected != nil {
		sel := *c.selected
		s.Selected = &sel
	}
	return s
}

// OnChange registers fn to receive every state transition, including the
// ones caused by snapshots.
func (c *Container) OnChange(fn func(State)) gateway.Subscription {
	return c.listeners.Add(fn)
}

func (c *Container) update(fn func()) {
	c.mu.Lock()
	fn()
	s := c.stateLocked()
	c.mu.Unlock()
	c.listeners.Emit(s)
}

func (c *Container) fail(op string, err error) error {
	err = gateway.GatewayError(err)
	metrics.GatewayFailures.WithLabelValues("conversation." + op).Inc()
	c.log.Warn("conversation operation failed", zap.String("op", op), zap.Error(err))
	c.update(func() {
		c.lastErr = err
		c.loading = false
	})
	return err
}

func cancel(sub gateway.Subscription, stream string) {
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	metrics.ActiveSubscriptions.WithLabelValues(stream).Dec()
}

// ---------------------------------------------
// 📋 Conversation list
// ---------------------------------------------

// InitConversationList replaces the conversation-list subscription with one
// for the conversations uid takes part in.
func (c *Container) InitConversationList(ctx context.Context, uid string) error {
	c.mu.Lock()
	old := c.listSub
	c.listSub = nil
	c.listGen++
	gen := c.listGen
	c.mu.Unlock()
	cancel(old, metrics.StreamConversations)

	sub, err := c.store.SubscribeConversations(ctx, uid, func(list []gateway.Conversation, err error) {
		c.applyConversations(gen, list, err)
	})
	if err != nil {
		return c.fail("init_conversation_list", err)
	}
	metrics.ActiveSubscriptions.WithLabelValues(metrics.StreamConversations).Inc()

	c.mu.Lock()
	if c.listGen != gen {
		// Replaced or disposed while subscribing.
		c.mu.Unlock()
		cancel(sub, metrics.StreamConversations)
		return nil
	}
	c.listSub = sub
	c.mu.Unlock()
	c.log.Debug("📋 conversation list subscribed", zap.String("uid", uid))
	return nil
}

func (c *Container) applyConversations(gen uint64, list []gateway.Conversation, err error) {
	c.mu.Lock()
	if gen != c.listGen {
		c.mu.Unlock()
		metrics.StaleSnapshots.WithLabelValues(metrics.StreamConversations).Inc()
		return
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("conversations_snapshot", err)
		return
	}
	metrics.Snapshots.WithLabelValues(metrics.StreamConversations).Inc()
	c.update(func() {
		if gen != c.listGen {
			return
		}
		c.conversations = list
		c.listRev++
	})
}

// ---------------------------------------------
// 💬 Selected conversation
// ---------------------------------------------

// SelectConversation makes conv the selected conversation and streams its
// messages. Selecting the conversation that is already selected does
// nothing. A nil conv clears the selection.
func (c *Container) SelectConversation(ctx context.Context, conv *gateway.Conversation) error {
	c.mu.Lock()
	if sameConversation(c.selected, conv) {
		c.mu.Unlock()
		return nil
	}
	old := c.msgSub
	c.msgSub = nil
	c.msgGen++
	gen := c.msgGen
	if conv != nil {
		sel := *conv
		c.selected = &sel
	} else {
		c.selected = nil
	}
	c.messages = nil
	c.msgRev++
	s := c.stateLocked()
	c.mu.Unlock()

	cancel(old, metrics.StreamMessages)
	c.listeners.Emit(s)

	if conv == nil {
		return nil
	}

	sub, err := c.store.SubscribeMessages(ctx, conv.ID, func(list []gateway.Message, err error) {
		c.applyMessages(gen, list, err)
	})
	if err != nil {
		// Forget the selection so selecting the same conversation retries.
		c.mu.Lock()
		if c.msgGen == gen {
			c.selected = nil
			c.msgRev++
		}
		c.mu.Unlock()
		return c.fail("select_conversation", err)
	}
	metrics.ActiveSubscriptions.WithLabelValues(metrics.StreamMessages).Inc()

	c.mu.Lock()
	if c.msgGen != gen {
		c.mu.Unlock()
		cancel(sub, metrics.StreamMessages)
		return nil
	}
	c.msgSub = sub
	c.mu.Unlock()
	c.log.Debug("💬 conversation selected", zap.String("conversation_id", conv.ID))
	return nil
}

func sameConversation(a, b *gateway.Conversation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

func (c *Container) applyMessages(gen uint64, list []gateway.Message, err error) {
	c.mu.Lock()
	if gen != c.msgGen {
		c.mu.Unlock()
		metrics.StaleSnapshots.WithLabelValues(metrics.StreamMessages).Inc()
		return
	}
	c.mu.Unlock()

	if err != nil {
		c.fail("messages_snapshot", err)
		return
	}
	metrics.Snapshots.WithLabelValues(metrics.StreamMessages).Inc()
	c.update(func() {
		if gen != c.msgGen {
			return
		}
		c.messages = list
		c.msgRev++
	})
}

// ClearConversation drops the selection and its message subscription.
func (c *Container) ClearConversation() {
	c.mu.Lock()
	old := c.msgSub
	c.msgSub = nil
	c.msgGen++
	c.selected = nil
	c.messages = nil
	c.msgRev++
	s := c.stateLocked()
	c.mu.Unlock()

	cancel(old, metrics.StreamMessages)
	c.listeners.Emit(s)
}

// ---------------------------------------------
// ✍️ Writes
// ---------------------------------------------

// CreateConversation creates the conversation between participants, or
// returns the existing one. Direct conversations are keyed by their sorted
// participant ids. The created conversation is not selected.
func (c *Container) CreateConversation(ctx context.Context, participants []string, kind gateway.ConversationKind) (*gateway.Conversation, error) {
	if kind == "" {
		kind = gateway.Direct
	}
	if len(participants) == 0 {
		return nil, c.fail("create_conversation", gateway.Invalid("a conversation needs participants"))
	}
	c.update(func() {
		c.loading = true
		c.lastErr = nil
	})

	id := gateway.DirectConversationID(participants...)
	if kind == gateway.Group {
		id = gateway.NewGroupID()
	}
	conv, err := c.store.CreateConversation(ctx, &gateway.Conversation{
		ID:           id,
		Participants: append([]string(nil), participants...),
		Kind:         kind,
		UnreadCount:  map[string]int{},
	})
	if err != nil {
		return nil, c.fail("create_conversation", err)
	}
	c.update(func() { c.loading = false })
	return conv, nil
}

// SendMessage writes a message to the selected conversation, then updates
// the conversation preview and the sender's message counter. The three
// writes are sequential, not atomic: a failure after the first leaves the
// message stored with a stale preview or counter.
func (c *Container) SendMessage(ctx context.Context, content string, kind gateway.MessageKind) (string, error) {
	if kind == "" {
		kind = gateway.TextMessage
	}

	c.mu.Lock()
	var convID string
	if c.selected != nil {
		convID = c.selected.ID
	}
	c.mu.Unlock()
	if convID == "" {
		return "", c.fail("send_message", gateway.ErrNoActiveConversation)
	}
	p := c.profile.Profile()
	if p == nil {
		return "", c.fail("send_message", gateway.ErrNotAuthenticated)
	}

	c.update(func() {
		c.loading = true
		c.lastErr = nil
	})

	m := &gateway.Message{
		ID:             gateway.NewMessageID(),
		ConversationID: convID,
		SenderID:       p.UID,
		Content:        content,
		Kind:           kind,
		Timestamp:      c.now(),
		ReadBy:         []string{p.UID},
		Reactions:      map[string][]string{},
		Metadata:       map[string]string{},
	}
	if err := c.store.AddMessage(ctx, m); err != nil {
		return "", c.fail("send_message", err)
	}
	if err := c.store.UpdatePreview(ctx, convID, gateway.Preview{
		Text:     gateway.PreviewText(kind, content),
		At:       m.Timestamp,
		SenderID: p.UID,
	}); err != nil {
		return "", c.fail("send_message", err)
	}
	if err := c.store.IncrementMessagesSent(ctx, p.UID); err != nil {
		return "", c.fail("send_message", err)
	}

	c.update(func() { c.loading = false })
	return m.ID, nil
}

// Dispose cancels both subscriptions and resets the container.
func (c *Container) Dispose() {
	c.mu.Lock()
	msg, list := c.msgSub, c.listSub
	c.msgSub, c.listSub = nil, nil
	c.msgGen++
	c.listGen++
	c.conversations = nil
	c.selected = nil
	c.messages = nil
	c.loading = false
	c.lastErr = nil
	c.listRev++
	c.msgRev++
	s := c.stateLocked()
	c.mu.Unlock()

	cancel(msg, metrics.StreamMessages)
	cancel(list, metrics.StreamConversations)
	c.listeners.Emit(s)
}
