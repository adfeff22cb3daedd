// Package social implements friends, notifications, groups and voice rooms
// on top of the document store.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/metrics"
)

type MemberAction string

const (
	AddMember     MemberAction = "add"
	RemoveMember  MemberAction = "remove"
	PromoteMember MemberAction = "promote"
	DemoteMember  MemberAction = "demote"
)

type Service struct {
	store gateway.Store
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store gateway.Store, opts ...Option) *Service {
	s := &Service{store: store, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) fail(op string, err error) error {
	err = gateway.GatewayError(err)
	metrics.GatewayFailures.WithLabelValues("social." + op).Inc()
	s.log.Warn("social operation failed", zap.String("op", op), zap.Error(err))
	return err
}

func notAuthorized(reason string) error {
	return fmt.Errorf("%w: %s", gateway.ErrNotAuthorized, reason)
}

// ---------------------------------------------
// 🤝 Friends
// ---------------------------------------------

// SendFriendRequest records a pending request from -> to and notifies the
// recipient, unless they turned friend-request notifications off.
func (s *Service) SendFriendRequest(ctx context.Context, from, to string) (*gateway.FriendRequest, error) {
	if from == "" || to == "" {
		return nil, s.fail("send_friend_request", gateway.Invalid("both users are required"))
	}
	if from == to {
		return nil, s.fail("send_friend_request", gateway.Invalid("cannot befriend yourself"))
	}

	sender, err := s.store.GetProfile(ctx, from)
	if err != nil {
		return nil, s.fail("send_friend_request", err)
	}
	recipient, err := s.store.GetProfile(ctx, to)
	if err != nil {
		return nil, s.fail("send_friend_request", err)
	}
	for _, f := range sender.Friends {
		if f == to {
			return nil, s.fail("send_friend_request", fmt.Errorf("%s and %s are already friends: %w", from, to, gateway.ErrAlreadyExists))
		}
	}

	now := s.now()
	r := &gateway.FriendRequest{
		ID:         gateway.FriendRequestID(from, to),
		FromUserID: from,
		ToUserID:   to,
		Status:     gateway.RequestPending,
		CreatedAt:  now,
	}
	if err := s.store.CreateFriendRequest(ctx, r); err != nil {
		return nil, s.fail("send_friend_request", err)
	}

	if recipient.Settings.Notifications.FriendRequests {
		n := &gateway.Notification{
			ID:        gateway.NewNotificationID(),
			UserID:    to,
			Kind:      gateway.NotificationFriendRequest,
			Title:     "New Friend Request",
			Message:   "You have a new friend request from " + from,
			CreatedAt: now,
			Data:      map[string]string{"requestId": r.ID, "fromUserId": from},
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			return nil, s.fail("send_friend_request", err)
		}
	}

	s.log.Info("🤝 friend request sent", zap.String("from", from), zap.String("to", to))
	return r, nil
}

// AcceptFriendRequest marks the request accepted and links both users in one
// atomic batch. Only the recipient may accept.
func (s *Service) AcceptFriendRequest(ctx context.Context, requestID, actingUser string) error {
	r, err := s.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return s.fail("accept_friend_request", err)
	}
	if r.ToUserID != actingUser {
		return s.fail("accept_friend_request", notAuthorized("only the recipient can accept a friend request"))
	}
	if r.Status == gateway.RequestAccepted {
		return s.fail("accept_friend_request", fmt.Errorf("friend request %q already accepted: %w", requestID, gateway.ErrAlreadyExists))
	}

	at := s.now()
	err = s.store.Batch(ctx, func(b gateway.Batch) error {
		b.AcceptFriendRequest(r.ID, at)
		b.AddFriend(r.FromUserID, r.ToUserID)
		b.AddFriend(r.ToUserID, r.FromUserID)
		return nil
	})
	if err != nil {
		return s.fail("accept_friend_request", err)
	}
	s.log.Info("✅ friend request accepted", zap.String("request_id", requestID))
	return nil
}

// ---------------------------------------------
// 🔔 Notifications
// ---------------------------------------------

// Notifications lists uid's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, uid string) ([]gateway.Notification, error) {
	list, err := s.store.ListNotifications(ctx, uid)
	if err != nil {
		return nil, s.fail("notifications", err)
	}
	return list, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, uid, id string) error {
	if err := s.store.MarkNotificationRead(ctx, uid, id); err != nil {
		return s.fail("mark_notification_read", err)
	}
	return nil
}

// ---------------------------------------------
// 👥 Groups
// ---------------------------------------------

// CreateGroup creates a group owned by ownerID together with its group
// conversation, which shares the group's id.
func (s *Service) CreateGroup(ctx context.Context, name, description, ownerID string, public bool) (*gateway.GroupInfo, error) {
	if name == "" {
		return nil, s.fail("create_group", gateway.Invalid("group name is required"))
	}
	if ownerID == "" {
		return nil, s.fail("create_group", gateway.ErrNotAuthenticated)
	}

	now := s.now()
	g := &gateway.GroupInfo{
		ID:          gateway.NewGroupID(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Admins:      []string{ownerID},
		Members:     []string{ownerID},
		IsPublic:    public,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Settings:    gateway.DefaultGroupSettings(),
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, s.fail("create_group", err)
	}
	if _, err := s.store.CreateConversation(ctx, &gateway.Conversation{
		ID:           g.ID,
		Participants: []string{ownerID},
		Kind:         gateway.Group,
		UnreadCount:  map[string]int{},
	}); err != nil {
		return nil, s.fail("create_group", err)
	}
	if err := s.store.IncrementGroupsCount(ctx, ownerID); err != nil {
		return nil, s.fail("create_group", err)
	}

	s.log.Info("👥 group created", zap.String("group_id", g.ID), zap.String("owner", ownerID))
	return g, nil
}

// UpdateGroupSettings merges patch into the group's settings. Admins only.
func (s *Service) UpdateGroupSettings(ctx context.Context, groupID string, patch gateway.GroupSettingsPatch, adminID string) (*gateway.GroupInfo, error) {
	var out *gateway.GroupInfo
	err := s.store.UpdateGroup(ctx, groupID, func(g *gateway.GroupInfo) error {
		if !g.IsAdmin(adminID) {
			return notAuthorized("only group admins can change settings")
		}
		next := g.Settings
		patch.Apply(&next)
		if next.MaxMembers < 1 || next.MaxMembers < len(g.Members) {
			return gateway.Invalid("maxMembers %d is below the current member count %d", next.MaxMembers, len(g.Members))
		}
		g.Settings = next
		out = g
		return nil
	})
	if err != nil {
		return nil, s.fail("update_group_settings", err)
	}
	return out, nil
}

// ManageGroupMember applies action to userID on behalf of adminID. The owner
// stays a member and an admin, and admins are always members.
func (s *Service) ManageGroupMember(ctx context.Context, groupID, userID string, action MemberAction, adminID string) (*gateway.GroupInfo, error) {
	var out *gateway.GroupInfo
	err := s.store.UpdateGroup(ctx, groupID, func(g *gateway.GroupInfo) error {
		if !g.IsAdmin(adminID) {
			return notAuthorized("only group admins can manage members")
		}
		switch action {
		case AddMember:
			if g.IsMember(userID) {
				break
			}
			if len(g.Members) >= g.Settings.MaxMembers {
				return gateway.Invalid("group is full (%d members)", g.Settings.MaxMembers)
			}
			g.Members = append(g.Members, userID)
		case RemoveMember:
			if userID == g.OwnerID {
				return notAuthorized("the group owner cannot be removed")
			}
			if !g.IsMember(userID) {
				return fmt.Errorf("member %q of group %q: %w", userID, groupID, gateway.ErrNotFound)
			}
			g.Members = gateway.RemoveValue(g.Members, userID)
			g.Admins = gateway.RemoveValue(g.Admins, userID)
		case PromoteMember:
			if !g.IsMember(userID) {
				return gateway.Invalid("%s is not a member of the group", userID)
			}
			g.Admins = gateway.AppendUnique(g.Admins, userID)
		case DemoteMember:
			if userID == g.OwnerID {
				return notAuthorized("the group owner cannot be demoted")
			}
			g.Admins = gateway.RemoveValue(g.Admins, userID)
		default:
			return gateway.Invalid("unknown member action %q", action)
		}
		g.MemberCount = len(g.Members)
		out = g
		return nil
	})
	if err != nil {
		return nil, s.fail("manage_group_member", err)
	}

	if action == AddMember || action == RemoveMember {
		if err := s.store.SetParticipants(ctx, groupID, out.Members); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return nil, s.fail("manage_group_member", err)
		}
	}
	return out, nil
}

// ---------------------------------------------
// 🎙️ Voice Rooms
// ---------------------------------------------

// CreateVoiceRoom opens a room in groupID hosted by hostID, who joins it.
func (s *Service) CreateVoiceRoom(ctx context.Context, groupID, name, hostID string) (*gateway.VoiceRoom, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail("create_voice_room", err)
	}
	if !g.IsMember(hostID) {
		return nil, s.fail("create_voice_room", notAuthorized("only group members can host a voice room"))
	}
	if !g.Settings.AllowVoiceChat {
		return nil, s.fail("create_voice_room", notAuthorized("voice chat is disabled for this group"))
	}

	now := s.now()
	r := &gateway.VoiceRoom{
		ID:              gateway.NewVoiceRoomID(),
		GroupID:         groupID,
		Name:            name,
		HostID:          hostID,
		Participants:    []string{hostID},
		MaxParticipants: gateway.DefaultVoiceRoomCapacity,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Settings:        gateway.DefaultVoiceRoomSettings(),
	}
	if err := s.store.CreateVoiceRoom(ctx, r); err != nil {
		return nil, s.fail("create_voice_room", err)
	}
	if err := s.store.UpdateGroup(ctx, groupID, func(g *gateway.GroupInfo) error {
		g.Stats.VoiceSessions++
		return nil
	}); err != nil {
		s.log.Warn("voice session count not updated", zap.String("group_id", groupID), zap.Error(err))
	}

	s.log.Info("🎙️ voice room opened", zap.String("room_id", r.ID), zap.String("group_id", groupID))
	return r, nil
}

// JoinVoiceRoom adds uid to an active room. Joining twice is a no-op.
func (s *Service) JoinVoiceRoom(ctx context.Context, roomID, uid string) (*gateway.VoiceRoom, error) {
	room, err := s.store.GetVoiceRoom(ctx, roomID)
	if err != nil {
		return nil, s.fail("join_voice_room", err)
	}
	g, err := s.store.GetGroup(ctx, room.GroupID)
	if err != nil {
		return nil, s.fail("join_voice_room", err)
	}
	if !g.IsMember(uid) {
		return nil, s.fail("join_voice_room", notAuthorized("only group members can join its voice rooms"))
	}

	var out *gateway.VoiceRoom
	err = s.store.UpdateVoiceRoom(ctx, roomID, func(r *gateway.VoiceRoom) error {
		if !r.IsActive {
			return gateway.Invalid("voice room %s is closed", roomID)
		}
		for _, p := range r.Participants {
			if p == uid {
				out = r
				return nil
			}
		}
		if len(r.Participants) >= r.MaxParticipants {
			return gateway.Invalid("voice room %s is full", roomID)
		}
		r.Participants = append(r.Participants, uid)
		out = r
		return nil
	})
	if err != nil {
		return nil, s.fail("join_voice_room", err)
	}
	return out, nil
}

// LeaveVoiceRoom removes uid from the room. The room closes when its last
// participant leaves.
func (s *Service) LeaveVoiceRoom(ctx context.Context, roomID, uid string) (*gateway.VoiceRoom, error) {
	var out *gateway.VoiceRoom
	err := s.store.UpdateVoiceRoom(ctx, roomID, func(r *gateway.VoiceRoom) error {
		r.Participants = gateway.RemoveValue(r.Participants, uid)
		if len(r.Participants) == 0 {
			r.IsActive = false
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, s.fail("leave_voice_room", err)
	}
	if !out.IsActive {
		s.log.Info("🔇 voice room closed", zap.String("room_id", roomID))
	}
	return out, nil
}
