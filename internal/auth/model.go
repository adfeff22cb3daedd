package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-social-chat/internal/gateway"
)

// Account is the provider-side record behind an AuthUser.
type Account struct {
	UID           string
	Email         string
	PasswordHash  string
	DisplayName   string
	PhotoURL      string
	Provider      string
	Subject       string // federated subject, empty for password accounts
	EmailVerified bool
	CreatedAt     time.Time
}

func (a *Account) User() *gateway.AuthUser {
	return &gateway.AuthUser{
		UID:           a.UID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
		Provider:      a.Provider,
		EmailVerified: a.EmailVerified,
	}
}

// Claims are carried by the ID tokens this provider issues.
type Claims struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// FederatedClaims are read from tokens minted by the external identity provider.
type FederatedClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

const (
	purposeSession     = "session"
	purposeVerifyEmail = "verify_email"
	tokenIssuer        = "go-social-chat"
	minPasswordLength  = 6
)

// Provider rejections. Their text is what the UI shows.
var (
	ErrInvalidCredential = errors.New("auth/invalid-credential")
	ErrEmailInUse        = errors.New("auth/email-already-in-use")
	ErrInvalidEmail      = errors.New("auth/invalid-email")
	ErrWeakPassword      = errors.New("auth/weak-password")
	ErrInvalidToken      = errors.New("auth/invalid-id-token")
	ErrUserNotFound      = errors.New("auth/user-not-found")
	ErrFederatedDisabled = errors.New("auth/operation-not-allowed")
)
