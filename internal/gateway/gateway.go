// Package gateway is the boundary between the client state containers and the
// managed backend: the auth provider and the document store.
package gateway

import (
	"context"
	"time"
)

// Subscription owns the cancellation of a live source. Unsubscribe is safe to
// call more than once.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function into a Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// SnapshotFunc receives the full ordered result set of a live query each time
// it changes. A non-nil err reports a failed delivery; snapshot is nil then.
type SnapshotFunc[T any] func(snapshot []T, err error)

// Auth is a per-session client of the auth provider. It tracks the signed-in
// user of one client instance.
type Auth interface {
	SignUp(ctx context.Context, email, password string) (*AuthUser, error)
	SignIn(ctx context.Context, email, password string) (*AuthUser, error)
	// SignInWithIDToken completes a federated sign-in using the token issued by
	// the external identity provider.
	SignInWithIDToken(ctx context.Context, idToken string) (*AuthUser, error)
	SignOut(ctx context.Context) error
	CurrentUser() *AuthUser
	// Token returns an ID token for the current user, usable to restore the
	// session later. Empty when signed out.
	Token() string
	UpdateUserProfile(ctx context.Context, displayName, photoURL string) error
	SendEmailVerification(ctx context.Context) error
	Reauthenticate(ctx context.Context, password string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	DeleteUser(ctx context.Context) error
	// OnAuthStateChanged calls fn with the current user (nil when signed out)
	// and again on every transition, until the subscription is cancelled.
	OnAuthStateChanged(fn func(*AuthUser)) Subscription
}

type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (*Profile, error)
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, uid string, u ProfileUpdate) error
	SetPresence(ctx context.Context, uid string, status Presence, at time.Time) error
	// SetPhotoAndPresence refreshes the fields a federated sign-in owns.
	SetPhotoAndPresence(ctx context.Context, uid, photoURL string, status Presence, at time.Time) error
	MarkDeleted(ctx context.Context, uid string, at time.Time) error
	IncrementMessagesSent(ctx context.Context, uid string) error
	IncrementGroupsCount(ctx context.Context, uid string) error
	// SubscribeOnlineUsers streams profiles whose status is online.
	SubscribeOnlineUsers(ctx context.Context, fn SnapshotFunc[Profile]) (Subscription, error)
}

type ConversationStore interface {
	// CreateConversation stores c unless a conversation with the same id
	// exists, in which case the stored one is left untouched and returned.
	CreateConversation(ctx context.Context, c *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SetParticipants(ctx context.Context, id string, participants []string) error
	// AddMessage fails with ErrNotFound when the parent conversation is missing.
	AddMessage(ctx context.Context, m *Message) error
	UpdatePreview(ctx context.Context, conversationID string, p Preview) error
	// SubscribeMessages streams a conversation's messages by send time ascending.
	SubscribeMessages(ctx context.Context, conversationID string, fn SnapshotFunc[Message]) (Subscription, error)
	// SubscribeConversations streams the conversations uid takes part in, by
	// last message time descending.
	SubscribeConversations(ctx context.Context, uid string, fn SnapshotFunc[Conversation]) (Subscription, error)
}

// Batch queues mutations applied together by SocialStore.Batch.
type Batch interface {
	AcceptFriendRequest(requestID string, at time.Time)
	// AddFriend adds friendID to uid's friends and bumps stats.friendsCount.
	AddFriend(uid, friendID string)
}

type SocialStore interface {
	CreateFriendRequest(ctx context.Context, r *FriendRequest) error
	GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error)
	// Batch runs fn to queue mutations, then commits them atomically: either
	// every mutation is applied or none is.
	Batch(ctx context.Context, fn func(b Batch) error) error

	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, uid string) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, uid, id string) error

	CreateGroup(ctx context.Context, g *GroupInfo) error
	GetGroup(ctx context.Context, id string) (*GroupInfo, error)
	// UpdateGroup runs fn against the current document and stores the result
	// atomically. An error from fn aborts the write.
	UpdateGroup(ctx context.Context, id string, fn func(g *GroupInfo) error) error

	CreateVoiceRoom(ctx context.Context, r *VoiceRoom) error
	GetVoiceRoom(ctx context.Context, id string) (*VoiceRoom, error)
	UpdateVoiceRoom(ctx context.Context, id string, fn func(r *VoiceRoom) error) error
}

// Store is the whole document store surface.
type Store interface {
	ProfileStore
	ConversationStore
	SocialStore
}
