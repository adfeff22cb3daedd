package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectConversationIDIsOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"zed", "amy"},
		{"same", "same"},
		{"Bx9", "a01"},
	}
	for _, p := range pairs {
		assert.Equal(t, DirectConversationID(p[0], p[1]), DirectConversationID(p[1], p[0]))
	}
	assert.Equal(t, "u1_u2", DirectConversationID("u2", "u1"))
}

func TestDirectConversationIDDoesNotMutateInput(t *testing.T) {
	in := []string{"b", "a"}
	_ = DirectConversationID(in...)
	assert.Equal(t, []string{"b", "a"}, in)
}

func TestFriendRequestIDIsOrdered(t *testing.T) {
	assert.Equal(t, "u1_u2", FriendRequestID("u1", "u2"))
	assert.NotEqual(t, FriendRequestID("u1", "u2"), FriendRequestID("u2", "u1"))
}

func TestMessageIDsSortByCreation(t *testing.T) {
	a := NewMessageID()
	time.Sleep(2 * time.Millisecond)
	b := NewMessageID()
	assert.Less(t, a, b)
}

func TestNewProfileDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewProfile(&AuthUser{UID: "u1", Email: "a@x.com", DisplayName: "Ann"}, now)

	assert.Equal(t, Online, p.Status)
	assert.Equal(t, now, p.LastSeen)
	assert.Equal(t, Stats{}, p.Stats)
	assert.True(t, p.Privacy.ProfileVisible && p.Privacy.Searchable && p.Privacy.ShowOnlineStatus && p.Privacy.ShowLastSeen)
	assert.Equal(t, "light", p.Settings.Theme)
	assert.Equal(t, "en", p.Settings.Language)
	assert.True(t, p.Settings.Notifications.Messages)
	assert.False(t, p.Settings.Security.TwoFactorEnabled)
	assert.True(t, p.Settings.Security.LoginAlerts)
	assert.NotNil(t, p.Friends)
}

func TestFailureKeepsProviderMessage(t *testing.T) {
	provider := errors.New("auth/wrong-password")
	err := AuthError(provider)

	assert.Equal(t, "auth/wrong-password", err.Error())
	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.ErrorIs(t, err, provider)
	assert.NotErrorIs(t, err, ErrGatewayFailure)
}

func TestGatewayErrorPassesTaxonomyThrough(t *testing.T) {
	assert.Same(t, ErrNotAuthorized, GatewayError(ErrNotAuthorized))
	assert.Nil(t, GatewayError(nil))

	wrapped := GatewayError(errors.New("boom"))
	require.ErrorIs(t, wrapped, ErrGatewayFailure)
	assert.Same(t, wrapped, GatewayError(wrapped))
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "hi", PreviewText(TextMessage, "hi"))
	assert.Equal(t, "Sent a image", PreviewText(ImageMessage, "https://cdn/x.png"))
}

func TestListHelpers(t *testing.T) {
	l := AppendUnique(nil, "a")
	l = AppendUnique(l, "b")
	l = AppendUnique(l, "a")
	assert.Equal(t, []string{"a", "b"}, l)
	assert.Equal(t, []string{"b"}, RemoveValue(l, "a"))
	assert.Equal(t, []string{"a", "b"}, l)
}

func TestProfileUpdateApply(t *testing.T) {
	name := "New"
	p := &Profile{DisplayName: "Old", Bio: "keep"}
	now := time.Now()
	u := ProfileUpdate{DisplayName: &name}

	require.False(t, u.Empty())
	u.Apply(p, now)
	assert.Equal(t, "New", p.DisplayName)
	assert.Equal(t, "keep", p.Bio)
	assert.Equal(t, now, p.UpdatedAt)
	assert.True(t, ProfileUpdate{}.Empty())
}
