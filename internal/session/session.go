// Package session holds the signed-in identity of one client and mediates the
// login, registration, logout and profile flows.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
	"go-social-chat/internal/metrics"
)

// State is a point-in-time copy of the container.
type State struct {
	Identity  *gateway.AuthUser `json:"identity"`
	Profile   *gateway.Profile  `json:"profile"`
	Loading   bool              `json:"loading"`
	LastError error             `json:"-"`
}

type Container struct {
	auth     gateway.Auth
	profiles gateway.ProfileStore
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	identity *gateway.AuthUser
	profile  *gateway.Profile
	loading  bool
	lastErr  error

	listeners gateway.Listeners[State]
}

type Option func(*Container)

func WithLogger(l *zap.Logger) Option       { return func(c *Container) { c.log = l } }
func WithClock(now func() time.Time) Option { return func(c *Container) { c.now = now } }

func New(auth gateway.Auth, profiles gateway.ProfileStore, opts ...Option) *Container {
	c := &Container{
		auth:     auth,
		profiles: profiles,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Container) stateLocked() State {
	s := State{Loading: c.loading, LastError: c.lastErr}
	if c.identity != nil {
		u := *c.identity
		s.Identity = &u
	}
	if c.profile != nil {
		p := *c.profile
		s.Profile = &p
	}
	return s
}

// Profile returns the active profile, or nil when nobody is signed in.
func (c *Container) Profile() *gateway.Profile {
	return c.State().Profile
}

// OnChange registers fn to receive every state transition.
func (c *Container) OnChange(fn func(State)) gateway.Subscription {
	return c.listeners.Add(fn)
}

// Dispose drops all listeners. Signed-in state is left for Logout to clear.
func (c *Container) Dispose() {
	c.listeners.Clear()
}

func (c *Container) update(fn func()) {
	c.mu.Lock()
	fn()
	s := c.stateLocked()
	c.mu.Unlock()
	c.listeners.Emit(s)
}

func (c *Container) begin() {
	c.update(func() {
		c.loading = true
		c.lastErr = nil
	})
}

func (c *Container) fail(op string, err error) error {
	err = gateway.GatewayError(err)
	metrics.GatewayFailures.WithLabelValues("session." + op).Inc()
	c.log.Warn("session operation failed", zap.String("op", op), zap.Error(err))
	c.update(func() {
		c.lastErr = err
		c.loading = false
	})
	return err
}

func (c *Container) signedIn(u *gateway.AuthUser, p *gateway.Profile) {
	c.update(func() {
		c.identity = u
		c.profile = p
		c.loading = false
	})
}

func (c *Container) signedOut() {
	c.update(func() {
		c.identity = nil
		c.profile = nil
		c.loading = false
	})
}

func (c *Container) currentUID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.UID
}

// setPresence is best-effort: a failed presence write is logged and never
// fails the surrounding flow.
func (c *Container) setPresence(ctx context.Context, uid string, status gateway.Presence) {
	if err := c.profiles.SetPresence(ctx, uid, status, c.now()); err != nil {
		c.log.Warn("presence write failed", zap.String("uid", uid), zap.String("status", string(status)), zap.Error(err))
	}
}

// fetchProfile reads the profile document. A missing or unreadable profile
// leaves the identity signed in without one.
func (c *Container) fetchProfile(ctx context.Context, uid string) *gateway.Profile {
	p, err := c.profiles.GetProfile(ctx, uid)
	if err != nil {
		c.log.Warn("profile fetch failed", zap.String("uid", uid), zap.Error(err))
		return nil
	}
	return p
}

func (c *Container) Login(ctx context.Context, email, password string) error {
	c.begin()
	u, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return c.fail("login", err)
	}
	c.setPresence(ctx, u.UID, gateway.Online)
	c.signedIn(u, c.fetchProfile(ctx, u.UID))
	c.log.Info("✅ signed in", zap.String("uid", u.UID))
	return nil
}

// Register creates the identity and its default profile document.
func (c *Container) Register(ctx context.Context, email, password, displayName string) error {
	c.begin()
	u, err := c.auth.SignUp(ctx, email, password)
	if err != nil {
		return c.fail("register", err)
	}
	if err := c.auth.UpdateUserProfile(ctx, displayName, ""); err != nil {
		return c.abortRegister(ctx, err)
	}
	u.DisplayName = displayName
	if err := c.auth.SendEmailVerification(ctx); err != nil {
		c.log.Warn("email verification not sent", zap.String("uid", u.UID), zap.Error(err))
	}

	if err := c.profiles.CreateProfile(ctx, gateway.NewProfile(u, c.now())); err != nil {
		return c.abortRegister(ctx, err)
	}
	c.signedIn(u, c.fetchProfile(ctx, u.UID))
	c.log.Info("🆕 registered", zap.String("uid", u.UID))
	return nil
}

// abortRegister signs the provider out again so a half-finished registration
// does not resurface as a signed-in user without a profile.
func (c *Container) abortRegister(ctx context.Context, err error) error {
	if signOutErr := c.auth.SignOut(ctx); signOutErr != nil {
		c.log.Warn("sign-out after failed registration failed", zap.Error(signOutErr))
	}
	return c.fail("register", err)
}

// FederatedSignIn completes a sign-in with an ID token from the external
// identity provider. The profile is created on first sight and refreshed
// afterwards.
func (c *Container) FederatedSignIn(ctx context.Context, idToken string) error {
	c.begin()
	u, err := c.auth.SignInWithIDToken(ctx, idToken)
	if err != nil {
		return c.fail("federated_sign_in", err)
	}

	_, err = c.profiles.GetProfile(ctx, u.UID)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		if err := c.profiles.CreateProfile(ctx, gateway.NewProfile(u, c.now())); err != nil {
			return c.fail("federated_sign_in", err)
		}
	case err != nil:
		return c.fail("federated_sign_in", err)
	default:
		if err := c.profiles.SetPhotoAndPresence(ctx, u.UID, u.PhotoURL, gateway.Online, c.now()); err != nil {
			c.log.Warn("presence write failed", zap.String("uid", u.UID), zap.Error(err))
		}
	}

	c.signedIn(u, c.fetchProfile(ctx, u.UID))
	return nil
}

// Logout marks the user offline, then clears local state. The local state is
// cleared even when the presence write or the provider sign-out fails.
func (c *Container) Logout(ctx context.Context) error {
	c.update(func() { c.loading = true })

	uid := c.currentUID()
	if uid == "" {
		if u := c.auth.CurrentUser(); u != nil {
			uid = u.UID
		}
	}
	if uid != "" {
		c.setPresence(ctx, uid, gateway.Offline)
	}

	err := c.auth.SignOut(ctx)
	c.signedOut()
	if err != nil {
		return c.fail("logout", err)
	}
	c.log.Info("👋 signed out", zap.String("uid", uid))
	return nil
}

// UpdateProfile merges u into the profile document, then reloads it.
func (c *Container) UpdateProfile(ctx context.Context, u gateway.ProfileUpdate) error {
	c.begin()
	uid := c.currentUID()
	if uid == "" {
		return c.fail("update_profile", gateway.ErrNotAuthenticated)
	}

	if err := c.profiles.UpdateProfile(ctx, uid, u); err != nil {
		return c.fail("update_profile", err)
	}

	if u.DisplayName != nil || u.PhotoURL != nil {
		current := c.auth.CurrentUser()
		name, photo := "", ""
		if current != nil {
			name, photo = current.DisplayName, current.PhotoURL
		}
		if u.DisplayName != nil && *u.DisplayName != "" {
			name = *u.DisplayName
		}
		if u.PhotoURL != nil && *u.PhotoURL != "" {
			photo = *u.PhotoURL
		}
		if err := c.auth.UpdateUserProfile(ctx, name, photo); err != nil {
			return c.fail("update_profile", err)
		}
	}

	p, err := c.profiles.GetProfile(ctx, uid)
	if err != nil {
		return c.fail("update_profile", err)
	}
	c.update(func() {
		c.profile = p
		if current := c.auth.CurrentUser(); current != nil {
			c.identity = current
		}
		c.loading = false
	})
	return nil
}

// ChangePassword re-verifies the current credential before replacing it.
func (c *Container) ChangePassword(ctx context.Context, current, next string) error {
	c.begin()
	if c.currentUID() == "" {
		return c.fail("change_password", gateway.ErrNotAuthenticated)
	}
	if err := c.auth.Reauthenticate(ctx, current); err != nil {
		return c.fail("change_password", err)
	}
	if err := c.auth.UpdatePassword(ctx, next); err != nil {
		return c.fail("change_password", err)
	}
	c.update(func() { c.loading = false })
	return nil
}

// DeleteAccount soft-deletes the profile, then removes the identity.
func (c *Container) DeleteAccount(ctx context.Context, password string) error {
	c.begin()
	uid := c.currentUID()
	if uid == "" {
		return c.fail("delete_account", gateway.ErrNotAuthenticated)
	}
	if err := c.auth.Reauthenticate(ctx, password); err != nil {
		return c.fail("delete_account", err)
	}
	if err := c.profiles.MarkDeleted(ctx, uid, c.now()); err != nil {
		return c.fail("delete_account", err)
	}
	if err := c.auth.DeleteUser(ctx); err != nil {
		return c.fail("delete_account", err)
	}
	c.signedOut()
	return nil
}

// CheckAuth resolves the local state from the provider's first auth-state
// report, then stops listening.
func (c *Container) CheckAuth(ctx context.Context) error {
	c.update(func() { c.loading = true })

	first := make(chan *gateway.AuthUser, 1)
	var once sync.Once
	sub := c.auth.OnAuthStateChanged(func(u *gateway.AuthUser) {
		once.Do(func() { first <- u })
	})
	defer sub.Unsubscribe()

	select {
	case u := <-first:
		if u == nil {
			c.signedOut()
			return nil
		}
		c.signedIn(u, c.fetchProfile(ctx, u.UID))
		return nil
	case <-ctx.Done():
		return c.fail("check_auth", ctx.Err())
	}
}
