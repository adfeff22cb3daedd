package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-social-chat/internal/auth"
	"go-social-chat/internal/gateway"
	"go-social-chat/internal/gateway/memory"
)

// spyStore wraps the memory store to observe and break profile writes.
type spyStore struct {
	*memory.Store
	presenceErr    error
	presenceWrites atomic.Int32
	updates        atomic.Int32
	onPresence     func(status gateway.Presence)
	createErr      error
}

func (s *spyStore) CreateProfile(ctx context.Context, p *gateway.Profile) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateProfile(ctx, p)
}

func (s *spyStore) SetPresence(ctx context.Context, uid string, status gateway.Presence, at time.Time) error {
	s.presenceWrites.Add(1)
	if s.onPresence != nil {
		s.onPresence(status)
	}
	if s.presenceErr != nil {
		return s.presenceErr
	}
	return s.Store.SetPresence(ctx, uid, status, at)
}

func (s *spyStore) UpdateProfile(ctx context.Context, uid string, u gateway.ProfileUpdate) error {
	s.updates.Add(1)
	return s.Store.UpdateProfile(ctx, uid, u)
}

type fixture struct {
	svc    *auth.Service
	client *auth.Client
	store  *spyStore
	c      *Container
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := auth.NewService(auth.NewMemoryRepository(), "secret",
		auth.WithBcryptCost(bcrypt.MinCost),
		auth.WithFederated(auth.Federated{Issuer: "idp", Secret: "idp-secret"}))
	client := auth.NewClient(svc)
	store := &spyStore{Store: memory.New()}
	return &fixture{svc: svc, client: client, store: store, c: New(client, store)}
}

func TestRegisterCreatesDefaultProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))

	st := f.c.State()
	require.NotNil(t, st.Identity)
	require.NotNil(t, st.Profile)
	assert.False(t, st.Loading)
	assert.NoError(t, st.LastError)
	assert.Equal(t, "Ann", st.Identity.DisplayName)
	assert.Equal(t, "Ann", st.Profile.DisplayName)
	assert.Equal(t, "a@x.com", st.Profile.Email)
	assert.Equal(t, gateway.Online, st.Profile.Status)
	assert.Equal(t, 0, st.Profile.Stats.FriendsCount)
	assert.True(t, st.Profile.Settings.Notifications.FriendRequests)
}

func TestRegisterFailureLeavesProviderSignedOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.createErr = errors.New("quota exceeded")

	err := f.c.Register(ctx, "a@x.com", "secret1", "Ann")
	require.ErrorIs(t, err, gateway.ErrGatewayFailure)
	assert.Nil(t, f.c.State().Identity)
	assert.Nil(t, f.client.CurrentUser())

	require.NoError(t, f.c.CheckAuth(ctx))
	assert.Nil(t, f.c.State().Identity)
}

func TestLoginFailureStoresError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.c.Login(ctx, "nobody@x.com", "whatever")
	require.ErrorIs(t, err, gateway.ErrAuthFailure)

	st := f.c.State()
	assert.Nil(t, st.Identity)
	assert.False(t, st.Loading)
	assert.ErrorIs(t, st.LastError, gateway.ErrAuthFailure)
	assert.Equal(t, "auth/invalid-credential", st.LastError.Error())
}

func TestLoginMarksOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	require.NoError(t, f.c.Logout(ctx))

	other := New(auth.NewClient(f.svc), f.store)
	require.NoError(t, other.Login(ctx, "a@x.com", "secret1"))

	st := other.State()
	require.NotNil(t, st.Profile)
	assert.Equal(t, gateway.Online, st.Profile.Status)
}

func TestLoginSucceedsWhenPresenceWriteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	require.NoError(t, f.c.Logout(ctx))

	f.store.presenceErr = errors.New("unavailable")
	require.NoError(t, f.c.Login(ctx, "a@x.com", "secret1"))
	assert.NotNil(t, f.c.State().Identity)
}

func TestLogoutWritesPresenceBeforeClearing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	uid := f.c.State().Identity.UID

	var identityDuringWrite bool
	f.store.onPresence = func(status gateway.Presence) {
		if status == gateway.Offline {
			identityDuringWrite = f.c.State().Identity != nil
		}
	}

	require.NoError(t, f.c.Logout(ctx))
	assert.True(t, identityDuringWrite)
	assert.Nil(t, f.c.State().Identity)
	assert.Nil(t, f.c.State().Profile)
	assert.Nil(t, f.client.CurrentUser())

	p, err := f.store.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, gateway.Offline, p.Status)
}

func TestLogoutClearsEvenWhenPresenceWriteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	f.store.presenceErr = errors.New("network down")
	before := f.store.presenceWrites.Load()

	require.NoError(t, f.c.Logout(ctx))
	assert.Equal(t, before+1, f.store.presenceWrites.Load())
	assert.Nil(t, f.c.State().Identity)
}

func TestUpdateProfileRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	name := "x"

	err := f.c.UpdateProfile(context.Background(), gateway.ProfileUpdate{DisplayName: &name})
	require.ErrorIs(t, err, gateway.ErrNotAuthenticated)
	assert.Zero(t, f.store.updates.Load())
	assert.ErrorIs(t, f.c.State().LastError, gateway.ErrNotAuthenticated)
}

func TestUpdateProfileRefreshesFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))

	name, bio := "Annie", "hello"
	require.NoError(t, f.c.UpdateProfile(ctx, gateway.ProfileUpdate{DisplayName: &name, Bio: &bio}))

	st := f.c.State()
	assert.Equal(t, "Annie", st.Profile.DisplayName)
	assert.Equal(t, "hello", st.Profile.Bio)
	assert.Equal(t, "Annie", st.Identity.DisplayName)
	assert.Equal(t, "Annie", f.client.CurrentUser().DisplayName)
}

func TestChangePasswordRequiresCurrentCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))

	require.ErrorIs(t, f.c.ChangePassword(ctx, "wrong!!", "secret2"), gateway.ErrAuthFailure)
	require.NoError(t, f.c.ChangePassword(ctx, "secret1", "secret2"))

	require.NoError(t, f.c.Logout(ctx))
	require.NoError(t, f.c.Login(ctx, "a@x.com", "secret2"))
}

func TestDeleteAccountSoftDeletesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	uid := f.c.State().Identity.UID

	require.ErrorIs(t, f.c.DeleteAccount(ctx, "wrong!!"), gateway.ErrAuthFailure)
	p, err := f.store.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.False(t, p.Deleted)

	require.NoError(t, f.c.DeleteAccount(ctx, "secret1"))
	assert.Nil(t, f.c.State().Identity)

	p, err = f.store.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.True(t, p.Deleted)
	require.NotNil(t, p.DeletedAt)

	assert.ErrorIs(t, f.c.Login(ctx, "a@x.com", "secret1"), gateway.ErrAuthFailure)
}

func TestCheckAuthResolvesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.c.CheckAuth(ctx))
	assert.Nil(t, f.c.State().Identity)
	assert.False(t, f.c.State().Loading)

	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	token := f.client.Token()

	restoredClient := auth.NewClient(f.svc)
	require.NoError(t, restoredClient.Restore(ctx, token))
	restored := New(restoredClient, f.store)
	require.NoError(t, restored.CheckAuth(ctx))

	st := restored.State()
	require.NotNil(t, st.Identity)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Ann", st.Profile.DisplayName)

	// The bootstrap listener is gone: later transitions don't touch the container.
	require.NoError(t, restoredClient.SignOut(ctx))
	assert.NotNil(t, restored.State().Identity)
}

func TestFederatedSignInCreatesThenRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token := func(picture string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.FederatedClaims{
			Email:   "fed@idp.com",
			Name:    "Fed",
			Picture: picture,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "idp",
				Subject:   "42",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		s, err := tok.SignedString([]byte("idp-secret"))
		require.NoError(t, err)
		return s
	}

	require.NoError(t, f.c.FederatedSignIn(ctx, token("https://p/1.png")))
	st := f.c.State()
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Fed", st.Profile.DisplayName)
	assert.Equal(t, "https://p/1.png", st.Profile.PhotoURL)
	uid := st.Identity.UID

	require.NoError(t, f.c.Logout(ctx))
	require.NoError(t, f.c.FederatedSignIn(ctx, token("https://p/2.png")))
	st = f.c.State()
	assert.Equal(t, uid, st.Identity.UID)
	assert.Equal(t, "https://p/2.png", st.Profile.PhotoURL)
	assert.Equal(t, gateway.Online, st.Profile.Status)
}

func TestOnChangeReportsTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var states []State
	sub := f.c.OnChange(func(s State) { states = append(states, s) })
	defer sub.Unsubscribe()

	require.NoError(t, f.c.Register(ctx, "a@x.com", "secret1", "Ann"))
	require.NotEmpty(t, states)
	assert.True(t, states[0].Loading)
	last := states[len(states)-1]
	assert.False(t, last.Loading)
	assert.NotNil(t, last.Identity)
}
