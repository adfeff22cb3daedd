package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"go-social-chat/internal/gateway"
)

// Mailer delivers email verification links.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
}

// logMailer only records that a verification was requested.
type logMailer struct {
	log *zap.Logger
}

func (m logMailer) SendVerification(ctx context.Context, email, token string) error {
	m.log.Info("📧 email verification requested", zap.String("email", email))
	return nil
}

// Federated configures the external identity provider whose ID tokens are
// accepted by SignInWithIDToken.
type Federated struct {
	Issuer string
	Secret string
}

// Service is the shared side of the auth provider: accounts, password hashes
// and token signing. Per-session state lives in Client.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	federated *Federated
	mailer    Mailer
	cost      int
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithTokenTTL(ttl time.Duration) Option { return func(s *Service) { s.tokenTTL = ttl } }
func WithFederated(f Federated) Option      { return func(s *Service) { s.federated = &f } }
func WithMailer(m Mailer) Option            { return func(s *Service) { s.mailer = m } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

func NewService(repo Repository, secret string, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		jwtSecret: []byte(secret),
		tokenTTL:  24 * time.Hour,
		cost:      bcrypt.DefaultCost,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mailer == nil {
		s.mailer = logMailer{log: s.log}
	}
	return s
}

func reject(err error) error { return gateway.AuthError(err) }

func (s *Service) SignUp(ctx context.Context, email, password string) (*Account, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, reject(ErrInvalidEmail)
	}
	if len(password) < minPasswordLength {
		return nil, reject(ErrWeakPassword)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}

	a := &Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashedPwd),
		Provider:     gateway.ProviderPassword,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return nil, reject(err)
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Account, error) {
	a, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, reject(ErrInvalidCredential)
		}
		return nil, err
	}
	if err := s.checkHash(a, password); err != nil {
		return nil, err
	}
	return a, nil
}

// CheckPassword re-verifies the credential of an existing account.
func (s *Service) CheckPassword(ctx context.Context, uid, password string) error {
	a, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return reject(err)
		}
		return err
	}
	return s.checkHash(a, password)
}

func (s *Service) checkHash(a *Account, password string) error {
	if a.PasswordHash == "" {
		return reject(ErrInvalidCredential)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return reject(ErrInvalidCredential)
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, uid, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return reject(ErrWeakPassword)
	}
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, uid, string(hashedPwd))
}

func (s *Service) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	return s.repo.UpdateProfile(ctx, uid, displayName, photoURL)
}

func (s *Service) Delete(ctx context.Context, uid string) error {
	return s.repo.Delete(ctx, uid)
}

// SignInFederated verifies an ID token from the external identity provider
// and returns the matching account, creating it on first sight.
func (s *Service) SignInFederated(ctx context.Context, idToken string) (*Account, error) {
	if s.federated == nil || s.federated.Secret == "" {
		return nil, reject(ErrFederatedDisabled)
	}

	claims := &FederatedClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.federated.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.federated.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, reject(ErrInvalidToken)
	}

	subject := s.federated.Issuer + "|" + claims.Subject
	a, err := s.repo.GetBySubject(ctx, subject)
	switch {
	case err == nil:
		if claims.Picture != "" && claims.Picture != a.PhotoURL {
			a.PhotoURL = claims.Picture
			if err := s.repo.UpdateProfile(ctx, a.UID, a.DisplayName, a.PhotoURL); err != nil {
				return nil, err
			}
		}
		return a, nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	a = &Account{
		UID:           uuid.NewString(),
		Email:         claims.Email,
		DisplayName:   claims.Name,
		PhotoURL:      claims.Picture,
		Provider:      gateway.ProviderFederated,
		Subject:       subject,
		EmailVerified: true,
		CreatedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return nil, reject(err)
		}
		return nil, err
	}
	s.log.Info("🆕 federated account created", zap.String("uid", a.UID))
	return a, nil
}

func (s *Service) issue(a *Account, purpose string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UID:     a.UID,
		Email:   a.Email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// IssueToken signs a session token for a.
func (s *Service) IssueToken(a *Account) (string, error) {
	return s.issue(a, purposeSession, s.tokenTTL)
}

func (s *Service) parse(tokenString, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Purpose != purpose {
		return nil, reject(ErrInvalidToken)
	}
	return claims, nil
}

// ValidateToken resolves a session token to its still-existing account.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Account, error) {
	claims, err := s.parse(tokenString, purposeSession)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, reject(ErrInvalidToken)
		}
		return nil, err
	}
	return a, nil
}

// ValidateUID is ValidateToken reduced to the account id, for the HTTP
// middleware.
func (s *Service) ValidateUID(ctx context.Context, tokenString string) (string, error) {
	a, err := s.ValidateToken(ctx, tokenString)
	if err != nil {
		return "", err
	}
	return a.UID, nil
}

// SendVerification mails a signed verification link token to the account.
func (s *Service) SendVerification(ctx context.Context, uid string) error {
	a, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	token, err := s.issue(a, purposeVerifyEmail, 72*time.Hour)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerification(ctx, a.Email, token); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.parse(token, purposeVerifyEmail)
	if err != nil {
		return err
	}
	return s.repo.SetEmailVerified(ctx, claims.UID)
}
