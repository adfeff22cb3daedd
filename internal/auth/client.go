package auth

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
)

// Client is one session's view of the auth provider. It remembers the
// signed-in account and tells listeners about every transition.
type Client struct {
	svc *Service

	mu        sync.Mutex
	current   *Account
	token     string
	listeners map[int]func(*gateway.AuthUser)
	nextID    int
}

var _ gateway.Auth = (*Client)(nil)

func NewClient(svc *Service) *Client {
	return &Client{svc: svc, listeners: make(map[int]func(*gateway.AuthUser))}
}

// Restore signs the client in from a previously issued session token.
func (c *Client) Restore(ctx context.Context, token string) error {
	a, err := c.svc.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	c.setCurrent(a, token)
	return nil
}

func (c *Client) signedIn(a *Account) (*gateway.AuthUser, error) {
	token, err := c.svc.IssueToken(a)
	if err != nil {
		return nil, err
	}
	c.setCurrent(a, token)
	return a.User(), nil
}

func (c *Client) setCurrent(a *Account, token string) {
	c.mu.Lock()
	c.current = a
	c.token = token
	listeners := make([]func(*gateway.AuthUser), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	var u *gateway.AuthUser
	if a != nil {
		u = a.User()
	}
	for _, fn := range listeners {
		fn(u)
	}
}

func (c *Client) account() (*Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, gateway.ErrNotAuthenticated
	}
	a := *c.current
	return &a, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*gateway.AuthUser, error) {
	a, err := c.svc.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signedIn(a)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*gateway.AuthUser, error) {
	a, err := c.svc.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signedIn(a)
}

func (c *Client) SignInWithIDToken(ctx context.Context, idToken string) (*gateway.AuthUser, error) {
	a, err := c.svc.SignInFederated(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return c.signedIn(a)
}

func (c *Client) SignOut(ctx context.Context) error {
	c.setCurrent(nil, "")
	return nil
}

func (c *Client) CurrentUser() *gateway.AuthUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.User()
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) UpdateUserProfile(ctx context.Context, displayName, photoURL string) error {
	a, err := c.account()
	if err != nil {
		return err
	}
	if err := c.svc.UpdateProfile(ctx, a.UID, displayName, photoURL); err != nil {
		return err
	}
	c.mu.Lock()
	if c.current != nil && c.current.UID == a.UID {
		c.current.DisplayName = displayName
		c.current.PhotoURL = photoURL
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) SendEmailVerification(ctx context.Context) error {
	a, err := c.account()
	if err != nil {
		return err
	}
	return c.svc.SendVerification(ctx, a.UID)
}

func (c *Client) Reauthenticate(ctx context.Context, password string) error {
	a, err := c.account()
	if err != nil {
		return err
	}
	return c.svc.CheckPassword(ctx, a.UID, password)
}

func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	a, err := c.account()
	if err != nil {
		return err
	}
	return c.svc.ChangePassword(ctx, a.UID, newPassword)
}

func (c *Client) DeleteUser(ctx context.Context) error {
	a, err := c.account()
	if err != nil {
		return err
	}
	if err := c.svc.Delete(ctx, a.UID); err != nil {
		return err
	}
	c.svc.log.Info("🗑️ account deleted", zap.String("uid", a.UID))
	c.setCurrent(nil, "")
	return nil
}

// OnAuthStateChanged reports the current user right away, then every change.
func (c *Client) OnAuthStateChanged(fn func(*gateway.AuthUser)) gateway.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	var u *gateway.AuthUser
	if c.current != nil {
		u = c.current.User()
	}
	c.mu.Unlock()

	fn(u)

	return gateway.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}
