package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/social"
)

type opFunc func(c *Conn, ctx context.Context, data json.RawMessage) (any, error)

var ops = map[string]opFunc{
	"check_auth":        (*Conn).checkAuth,
	"register":          (*Conn).register,
	"login":             (*Conn).login,
	"federated_sign_in": (*Conn).federatedSignIn,
	"logout":            (*Conn).logout,
	"update_profile":    (*Conn).updateProfile,
	"change_password":   (*Conn).changePassword,
	"delete_account":    (*Conn).deleteAccount,

	"select_conversation": (*Conn).selectConversation,
	"create_conversation": (*Conn).createConversation,
	"send_message":        (*Conn).sendMessage,
	"clear_conversation":  (*Conn).clearConversation,

	"send_friend_request":    (*Conn).sendFriendRequest,
	"accept_friend_request":  (*Conn).acceptFriendRequest,
	"notifications":          (*Conn).notifications,
	"mark_notification_read": (*Conn).markNotificationRead,

	"create_group":          (*Conn).createGroup,
	"update_group_settings": (*Conn).updateGroupSettings,
	"manage_group_member":   (*Conn).manageGroupMember,
	"create_voice_room":     (*Conn).createVoiceRoom,
	"join_voice_room":       (*Conn).joinVoiceRoom,
	"leave_voice_room":      (*Conn).leaveVoiceRoom,
}

func (c *Conn) dispatch(req Request) Reply {
	op, ok := ops[req.Op]
	if !ok {
		return Reply{ID: req.ID, Error: fmt.Sprintf("unknown op %q", req.Op), Code: "invalid_argument"}
	}

	data, err := op(c, c.ctx, req.Data)
	if err != nil {
		c.log.Debug("op failed", zap.String("op", req.Op), zap.Error(err))
		return Reply{ID: req.ID, Error: err.Error(), Code: errorCode(err)}
	}
	return Reply{ID: req.ID, OK: true, Data: data}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return gateway.Invalid("malformed data: %v", err)
	}
	return nil
}

// uid is the signed-in user, or ErrNotAuthenticated.
func (c *Conn) uid() (string, error) {
	if id := c.session.State().Identity; id != nil {
		return id.UID, nil
	}
	return "", gateway.ErrNotAuthenticated
}

// ---------------------------------------------
// 🔐 Session
// ---------------------------------------------

// signedIn starts the streams that follow the user around.
func (c *Conn) signedIn(ctx context.Context) (any, error) {
	st := c.session.State()
	if st.Identity != nil {
		if err := c.conversations.InitConversationList(ctx, st.Identity.UID); err != nil {
			c.log.Warn("conversation list not started", zap.Error(err))
		}
		if err := c.presence.Watch(ctx); err != nil {
			c.log.Warn("presence watch not started", zap.Error(err))
		}
	}
	return sessionView(st), nil
}

func (c *Conn) signedOut() {
	c.presence.Stop()
	c.conversations.Dispose()
}

// switchUser signs out whoever is signed in on this connection before another
// sign-in, so none of their selection or streams carries over.
func (c *Conn) switchUser(ctx context.Context) {
	if c.session.State().Identity == nil {
		return
	}
	c.signedOut()
	if err := c.session.Logout(ctx); err != nil {
		c.log.Warn("previous session not signed out", zap.Error(err))
	}
}

func (c *Conn) checkAuth(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := c.session.CheckAuth(ctx); err != nil {
		return nil, err
	}
	return c.signedIn(ctx)
}

func (c *Conn) register(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	c.switchUser(ctx)
	if err := c.session.Register(ctx, in.Email, in.Password, in.DisplayName); err != nil {
		return nil, err
	}
	return c.signedIn(ctx)
}

func (c *Conn) login(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	c.switchUser(ctx)
	if err := c.session.Login(ctx, in.Email, in.Password); err != nil {
		return nil, err
	}
	return c.signedIn(ctx)
}

func (c *Conn) federatedSignIn(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		IDToken string `json:"idToken"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	c.switchUser(ctx)
	if err := c.session.FederatedSignIn(ctx, in.IDToken); err != nil {
		return nil, err
	}
	return c.signedIn(ctx)
}

func (c *Conn) logout(ctx context.Context, _ json.RawMessage) (any, error) {
	c.signedOut()
	if err := c.session.Logout(ctx); err != nil {
		return nil, err
	}
	return sessionView(c.session.State()), nil
}

func (c *Conn) updateProfile(ctx context.Context, data json.RawMessage) (any, error) {
	var in gateway.ProfileUpdate
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	if err := c.session.UpdateProfile(ctx, in); err != nil {
		return nil, err
	}
	return sessionView(c.session.State()), nil
}

func (c *Conn) changePassword(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return nil, c.session.ChangePassword(ctx, in.CurrentPassword, in.NewPassword)
}

func (c *Conn) deleteAccount(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		Password string `json:"password"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	if err := c.session.DeleteAccount(ctx, in.Password); err != nil {
		return nil, err
	}
	c.signedOut()
	return sessionView(c.session.State()), nil
}

// ---------------------------------------------
// 💬 Conversations
// ---------------------------------------------

func (c *Conn) selectConversation(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		ConversationID string `json:"conversationId"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	if in.ConversationID == "" {
		return nil, c.conversations.SelectConversation(ctx, nil)
	}

	conv, err := c.deps.Store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, gateway.GatewayError(err)
	}
	if !conv.HasParticipant(uid) {
		return nil, fmt.Errorf("%w: not a participant of %s", gateway.ErrNotAuthorized, conv.ID)
	}
	return conv, c.conversations.SelectConversation(ctx, conv)
}

func (c *Conn) createConversation(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		Participants []string                 `json:"participants"`
		Kind         gateway.ConversationKind `json:"type"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.conversations.CreateConversation(ctx, gateway.AppendUnique(in.Participants, uid), in.Kind)
}

func (c *Conn) sendMessage(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		Content string              `json:"content"`
		Kind    gateway.MessageKind `json:"type"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	id, err := c.conversations.SendMessage(ctx, in.Content, in.Kind)
	if err != nil {
		return nil, err
	}
	return map[string]string{"messageId": id}, nil
}

func (c *Conn) clearConversation(ctx context.Context, _ json.RawMessage) (any, error) {
	c.conversations.ClearConversation()
	return nil, nil
}

// ---------------------------------------------
// 🤝 Friends & Notifications
// ---------------------------------------------

func (c *Conn) sendFriendRequest(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		ToUserID string `json:"toUserId"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.SendFriendRequest(ctx, uid, in.ToUserID)
}

func (c *Conn) acceptFriendRequest(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		RequestID string `json:"requestId"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	if err := c.deps.Social.AcceptFriendRequest(ctx, in.RequestID, uid); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Conn) notifications(ctx context.Context, _ json.RawMessage) (any, error) {
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.Notifications(ctx, uid)
}

func (c *Conn) markNotificationRead(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return nil, c.deps.Social.MarkNotificationRead(ctx, uid, in.ID)
}

// ---------------------------------------------
// 👥 Groups & Voice Rooms
// ---------------------------------------------

func (c *Conn) createGroup(ctx context.Context, data json.RawMessage) (any, error) {
	in := struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPublic    *bool  `json:"isPublic"`
	}{}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	public := in.IsPublic == nil || *in.IsPublic
	return c.deps.Social.CreateGroup(ctx, in.Name, in.Description, uid, public)
}

func (c *Conn) updateGroupSettings(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		GroupID  string                     `json:"groupId"`
		Settings gateway.GroupSettingsPatch `json:"settings"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.UpdateGroupSettings(ctx, in.GroupID, in.Settings, uid)
}

func (c *Conn) manageGroupMember(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		GroupID string              `json:"groupId"`
		UserID  string              `json:"userId"`
		Action  social.MemberAction `json:"action"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.ManageGroupMember(ctx, in.GroupID, in.UserID, in.Action, uid)
}

func (c *Conn) createVoiceRoom(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		GroupID string `json:"groupId"`
		Name    string `json:"name"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.CreateVoiceRoom(ctx, in.GroupID, in.Name, uid)
}

func (c *Conn) joinVoiceRoom(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		RoomID string `json:"roomId"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.JoinVoiceRoom(ctx, in.RoomID, uid)
}

func (c *Conn) leaveVoiceRoom(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		RoomID string `json:"roomId"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	uid, err := c.uid()
	if err != nil {
		return nil, err
	}
	return c.deps.Social.LeaveVoiceRoom(ctx, in.RoomID, uid)
}
