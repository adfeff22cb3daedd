package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go-social-chat/internal/gateway"
)

// ---------------------------------------------
// 🤝 Friend Requests & Batches
// ---------------------------------------------

func (s *Store) CreateFriendRequest(ctx context.Context, r *gateway.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("friend request %q: %w", r.ID, gateway.ErrAlreadyExists)
	}
	stored := cloneRequest(r)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.requests[r.ID] = stored
	return nil
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (*gateway.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, notFound("friend request", id)
	}
	return cloneRequest(r), nil
}

type acceptOp struct {
	id string
	at time.Time
}

type friendOp struct {
	uid, friendID string
}

type batch struct {
	accepts []acceptOp
	friends []friendOp
}

func (b *batch) AcceptFriendRequest(requestID string, at time.Time) {
	b.accepts = append(b.accepts, acceptOp{id: requestID, at: at})
}

func (b *batch) AddFriend(uid, friendID string) {
	b.friends = append(b.friends, friendOp{uid: uid, friendID: friendID})
}

// Batch validates every queued mutation before applying any, all under the
// write lock.
func (s *Store) Batch(ctx context.Context, fn func(b gateway.Batch) error) error {
	b := &batch{}
	if err := fn(b); err != nil {
		return err
	}

	s.mu.Lock()
	for _, op := range b.accepts {
		r, ok := s.requests[op.id]
		if !ok {
			s.mu.Unlock()
			return notFound("friend request", op.id)
		}
		if r.Status != gateway.RequestPending {
			s.mu.Unlock()
			return fmt.Errorf("friend request %q already %s: %w", op.id, r.Status, gateway.ErrAlreadyExists)
		}
	}
	for _, op := range b.friends {
		if _, ok := s.profiles[op.uid]; !ok {
			s.mu.Unlock()
			return notFound("profile", op.uid)
		}
	}

	for _, op := range b.accepts {
		r := s.requests[op.id]
		at := op.at
		r.Status = gateway.RequestAccepted
		r.AcceptedAt = &at
	}
	for _, op := range b.friends {
		p := s.profiles[op.uid]
		p.Friends = gateway.AppendUnique(p.Friends, op.friendID)
		p.Stats.FriendsCount++
	}
	s.mu.Unlock()

	if len(b.friends) > 0 {
		s.hub.publish(gateway.OnlineUsersTopic)
	}
	return nil
}

// ---------------------------------------------
// 🔔 Notifications
// ---------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n *gateway.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneNotification(n)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.notifications[n.ID] = stored
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, uid string) ([]gateway.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == uid {
			out = append(out, *cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, uid, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != uid {
		return notFound("notification", id)
	}
	n.Read = true
	return nil
}

// ---------------------------------------------
// 👥 Groups & Voice Rooms
// ---------------------------------------------

func (s *Store) CreateGroup(ctx context.Context, g *gateway.GroupInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %q: %w", g.ID, gateway.ErrAlreadyExists)
	}
	s.groups[g.ID] = cloneGroup(g)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*gateway.GroupInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, notFound("group", id)
	}
	return cloneGroup(g), nil
}

func (s *Store) UpdateGroup(ctx context.Context, id string, fn func(g *gateway.GroupInfo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return notFound("group", id)
	}
	draft := cloneGroup(g)
	if err := fn(draft); err != nil {
		return err
	}
	draft.UpdatedAt = s.now()
	s.groups[id] = cloneGroup(draft)
	return nil
}

func (s *Store) CreateVoiceRoom(ctx context.Context, r *gateway.VoiceRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; ok {
		return fmt.Errorf("voice room %q: %w", r.ID, gateway.ErrAlreadyExists)
	}
	s.rooms[r.ID] = cloneRoom(r)
	return nil
}

func (s *Store) GetVoiceRoom(ctx context.Context, id string) (*gateway.VoiceRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, notFound("voice room", id)
	}
	return cloneRoom(r), nil
}

func (s *Store) UpdateVoiceRoom(ctx context.Context, id string, fn func(r *gateway.VoiceRoom) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return notFound("voice room", id)
	}
	draft := cloneRoom(r)
	if err := fn(draft); err != nil {
		return err
	}
	draft.UpdatedAt = s.now()
	s.rooms[id] = cloneRoom(draft)
	return nil
}
