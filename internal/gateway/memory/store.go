// Package memory is an in-process document store with live queries. It backs
// the tests and the single-process development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
)

type Store struct {
	mu            sync.RWMutex
	profiles      map[string]*gateway.Profile
	conversations map[string]*gateway.Conversation
	messages      map[string][]*gateway.Message
	requests      map[string]*gateway.FriendRequest
	notifications map[string]*gateway.Notification
	groups        map[string]*gateway.GroupInfo
	rooms         map[string]*gateway.VoiceRoom

	hub *hub
	now func() time.Time
	log *zap.Logger
}

var _ gateway.Store = (*Store)(nil)

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(s *Store) { s.log = l } }

func New(opts ...Option) *Store {
	s := &Store{
		profiles:      make(map[string]*gateway.Profile),
		conversations: make(map[string]*gateway.Conversation),
		messages:      make(map[string][]*gateway.Message),
		requests:      make(map[string]*gateway.FriendRequest),
		notifications: make(map[string]*gateway.Notification),
		groups:        make(map[string]*gateway.GroupInfo),
		rooms:         make(map[string]*gateway.VoiceRoom),
		hub:           newHub(),
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LiveQueries reports how many live queries are attached.
func (s *Store) LiveQueries() int { return s.hub.count() }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, gateway.ErrNotFound)
}

// ---------------------------------------------
// 👤 Profiles
// ---------------------------------------------

func (s *Store) GetProfile(ctx context.Context, uid string) (*gateway.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return nil, notFound("profile", uid)
	}
	return cloneProfile(p), nil
}

func (s *Store) CreateProfile(ctx context.Context, p *gateway.Profile) error {
	if p.UID == "" {
		return gateway.Invalid("profile uid is required")
	}
	s.mu.Lock()
	s.profiles[p.UID] = cloneProfile(p)
	s.mu.Unlock()
	s.hub.publish(gateway.OnlineUsersTopic)
	return nil
}

func (s *Store) updateProfile(uid string, fn func(p *gateway.Profile)) error {
	s.mu.Lock()
	p, ok := s.profiles[uid]
	if !ok {
		s.mu.Unlock()
		return notFound("profile", uid)
	}
	fn(p)
	s.mu.Unlock()
	s.hub.publish(gateway.OnlineUsersTopic)
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, uid string, u gateway.ProfileUpdate) error {
	now := s.now()
	return s.updateProfile(uid, func(p *gateway.Profile) { u.Apply(p, now) })
}

func (s *Store) SetPresence(ctx context.Context, uid string, status gateway.Presence, at time.Time) error {
	return s.updateProfile(uid, func(p *gateway.Profile) {
		p.Status = status
		p.LastSeen = at
	})
}

func (s *Store) SetPhotoAndPresence(ctx context.Context, uid, photoURL string, status gateway.Presence, at time.Time) error {
	return s.updateProfile(uid, func(p *gateway.Profile) {
		p.PhotoURL = photoURL
		p.Status = status
		p.LastSeen = at
	})
}

func (s *Store) MarkDeleted(ctx context.Context, uid string, at time.Time) error {
	return s.updateProfile(uid, func(p *gateway.Profile) {
		p.Deleted = true
		p.DeletedAt = &at
	})
}

func (s *Store) IncrementMessagesSent(ctx context.Context, uid string) error {
	return s.updateProfile(uid, func(p *gateway.Profile) { p.Stats.MessagesSent++ })
}

func (s *Store) IncrementGroupsCount(ctx context.Context, uid string) error {
	return s.updateProfile(uid, func(p *gateway.Profile) { p.Stats.GroupsCount++ })
}

func (s *Store) onlineUsers() []gateway.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Profile, 0)
	for _, p := range s.profiles {
		if p.Status == gateway.Online && !p.Deleted {
			out = append(out, *cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func (s *Store) SubscribeOnlineUsers(ctx context.Context, fn gateway.SnapshotFunc[gateway.Profile]) (gateway.Subscription, error) {
	return subscribe(s.hub, gateway.OnlineUsersTopic, s.onlineUsers, fn), nil
}

// ---------------------------------------------
// 💬 Conversations & Messages
// ---------------------------------------------

func (s *Store) CreateConversation(ctx context.Context, c *gateway.Conversation) (*gateway.Conversation, error) {
	if c.ID == "" {
		return nil, gateway.Invalid("conversation id is required")
	}
	s.mu.Lock()
	if existing, ok := s.conversations[c.ID]; ok {
		out := cloneConversation(existing)
		s.mu.Unlock()
		return out, nil
	}
	stored := cloneConversation(c)
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.UnreadCount == nil {
		stored.UnreadCount = map[string]int{}
	}
	s.conversations[c.ID] = stored
	out := cloneConversation(stored)
	s.mu.Unlock()

	s.hub.publish(conversationTopics(out.Participants)...)
	return out, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*gateway.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, notFound("conversation", id)
	}
	return cloneConversation(c), nil
}

func (s *Store) SetParticipants(ctx context.Context, id string, participants []string) error {
	s.mu.Lock()
	c, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return notFound("conversation", id)
	}
	touched := append(append([]string(nil), c.Participants...), participants...)
	c.Participants = append([]string(nil), participants...)
	c.UpdatedAt = s.now()
	s.mu.Unlock()

	s.hub.publish(conversationTopics(touched)...)
	return nil
}

func (s *Store) AddMessage(ctx context.Context, m *gateway.Message) error {
	if m.ID == "" {
		return gateway.Invalid("message id is required")
	}
	s.mu.Lock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		s.mu.Unlock()
		return notFound("conversation", m.ConversationID)
	}
	stored := cloneMessage(m)
	stored.Timestamp = s.now()
	m.Timestamp = stored.Timestamp
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], stored)
	s.mu.Unlock()

	s.hub.publish(gateway.MessagesTopic(m.ConversationID))
	return nil
}

func (s *Store) UpdatePreview(ctx context.Context, conversationID string, p gateway.Preview) error {
	s.mu.Lock()
	c, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return notFound("conversation", conversationID)
	}
	at := p.At
	if at.IsZero() {
		at = s.now()
	}
	c.LastMessage = p.Text
	c.LastMessageTime = &at
	c.UpdatedAt = at
	if c.UnreadCount == nil {
		c.UnreadCount = map[string]int{}
	}
	c.UnreadCount[p.SenderID] = 0
	participants := append([]string(nil), c.Participants...)
	s.mu.Unlock()

	s.hub.publish(conversationTopics(participants)...)
	return nil
}

func (s *Store) messagesOf(conversationID string) []gateway.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	out := make([]gateway.Message, 0, len(list))
	for _, m := range list {
		out = append(out, *cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *Store) SubscribeMessages(ctx context.Context, conversationID string, fn gateway.SnapshotFunc[gateway.Message]) (gateway.Subscription, error) {
	query := func() []gateway.Message { return s.messagesOf(conversationID) }
	return subscribe(s.hub, gateway.MessagesTopic(conversationID), query, fn), nil
}

func (s *Store) conversationsOf(uid string) []gateway.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Conversation, 0)
	for _, c := range s.conversations {
		if c.HasParticipant(uid) {
			out = append(out, *cloneConversation(c))
		}
	}
	SortByLastMessage(out)
	return out
}

func (s *Store) SubscribeConversations(ctx context.Context, uid string, fn gateway.SnapshotFunc[gateway.Conversation]) (gateway.Subscription, error) {
	query := func() []gateway.Conversation { return s.conversationsOf(uid) }
	return subscribe(s.hub, gateway.ConversationsTopic(uid), query, fn), nil
}

// SortByLastMessage orders conversations newest first; ones without messages
// go last.
func SortByLastMessage(list []gateway.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastMessageTime, list[j].LastMessageTime
		switch {
		case a == nil && b == nil:
			return list[i].ID < list[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return list[i].ID < list[j].ID
		}
		return a.After(*b)
	})
}

func conversationTopics(uids []string) []string {
	topics := make([]string, 0, len(uids))
	for _, uid := range uids {
		topics = append(topics, gateway.ConversationsTopic(uid))
	}
	return topics
}
