package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-social-chat/internal/gateway"
)

type capturedMail struct {
	mu     sync.Mutex
	email  string
	tokens []string
}

func (m *capturedMail) SendVerification(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.email = email
	m.tokens = append(m.tokens, token)
	return nil
}

const federatedIssuer = "https://idp.example.com"

func newTestService(opts ...Option) (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	opts = append([]Option{
		WithBcryptCost(bcrypt.MinCost),
		WithFederated(Federated{Issuer: federatedIssuer, Secret: "idp-secret"}),
	}, opts...)
	return NewService(repo, "test-secret", opts...), repo
}

func federatedToken(t *testing.T, issuer, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, FederatedClaims{
		Email:   subject + "@idp.example.com",
		Name:    "Fed " + subject,
		Picture: "https://idp.example.com/" + subject + ".png",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	a, err := svc.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, a.UID)
	assert.NotEqual(t, "secret1", a.PasswordHash)

	got, err := svc.SignIn(ctx, "A@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, a.UID, got.UID)
}

func TestSignUpRejections(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.SignUp(ctx, "not-an-email", "secret1")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	assert.ErrorIs(t, err, gateway.ErrAuthFailure)

	_, err = svc.SignUp(ctx, "a@x.com", "123")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, "a@x.com", "secret2")
	assert.ErrorIs(t, err, ErrEmailInUse)
	assert.Equal(t, "auth/email-already-in-use", err.Error())
}

func TestSignInWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	_, err := svc.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, "a@x.com", "wrong!!")
	assert.ErrorIs(t, err, gateway.ErrAuthFailure)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = svc.SignIn(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestTokenRestoresSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	c := NewClient(svc)
	u, err := c.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	token := c.Token()
	require.NotEmpty(t, token)

	restored := NewClient(svc)
	require.NoError(t, restored.Restore(ctx, token))
	assert.Equal(t, u.UID, restored.CurrentUser().UID)

	assert.ErrorIs(t, NewClient(svc).Restore(ctx, token+"x"), ErrInvalidToken)
}

func TestTokenForDeletedAccountIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	c := NewClient(svc)
	_, err := c.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	token := c.Token()

	require.NoError(t, c.DeleteUser(ctx))
	assert.Nil(t, c.CurrentUser())
	assert.ErrorIs(t, NewClient(svc).Restore(ctx, token), ErrInvalidToken)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	issued := time.Now().Add(-48 * time.Hour)
	old, _ := newTestService(WithClock(func() time.Time { return issued }))
	a, err := old.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	token, err := old.IssueToken(a)
	require.NoError(t, err)

	_, err = old.ValidateToken(ctx, token)
	require.NoError(t, err)

	svc := NewService(old.repo, "test-secret")
	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFederatedSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	first, err := svc.SignInFederated(ctx, federatedToken(t, federatedIssuer, "idp-secret", "sub-1"))
	require.NoError(t, err)
	assert.Equal(t, gateway.ProviderFederated, first.Provider)
	assert.True(t, first.EmailVerified)

	again, err := svc.SignInFederated(ctx, federatedToken(t, federatedIssuer, "idp-secret", "sub-1"))
	require.NoError(t, err)
	assert.Equal(t, first.UID, again.UID)

	_, err = svc.SignInFederated(ctx, federatedToken(t, "https://evil.example.com", "idp-secret", "sub-1"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.SignInFederated(ctx, federatedToken(t, federatedIssuer, "other-secret", "sub-1"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFederatedDisabled(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "s")
	_, err := svc.SignInFederated(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrFederatedDisabled)
}

func TestReauthenticateAndChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	c := NewClient(svc)

	assert.ErrorIs(t, c.Reauthenticate(ctx, "x"), gateway.ErrNotAuthenticated)

	_, err := c.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Reauthenticate(ctx, "nope!!"), ErrInvalidCredential)
	require.NoError(t, c.Reauthenticate(ctx, "secret1"))
	require.NoError(t, c.UpdatePassword(ctx, "secret2"))

	_, err = svc.SignIn(ctx, "a@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = svc.SignIn(ctx, "a@x.com", "secret2")
	assert.NoError(t, err)
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()
	mail := &capturedMail{}
	svc, repo := newTestService(WithMailer(mail))
	c := NewClient(svc)
	u, err := c.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)

	require.NoError(t, c.SendEmailVerification(ctx))
	require.Len(t, mail.tokens, 1)
	assert.Equal(t, "a@x.com", mail.email)

	assert.ErrorIs(t, svc.VerifyEmail(ctx, c.Token()), ErrInvalidToken)
	require.NoError(t, svc.VerifyEmail(ctx, mail.tokens[0]))
	a, err := repo.GetByID(ctx, u.UID)
	require.NoError(t, err)
	assert.True(t, a.EmailVerified)
}

func TestAuthStateListeners(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	c := NewClient(svc)

	var seen []*gateway.AuthUser
	sub := c.OnAuthStateChanged(func(u *gateway.AuthUser) { seen = append(seen, u) })

	_, err := c.SignUp(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))
	sub.Unsubscribe()
	_, err = c.SignIn(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	assert.Equal(t, "a@x.com", seen[1].Email)
	assert.Nil(t, seen[2])
}
