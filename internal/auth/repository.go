package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, uid string) (*Account, error)
	GetBySubject(ctx context.Context, subject string) (*Account, error)
	UpdatePassword(ctx context.Context, uid, hash string) error
	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error
	SetEmailVerified(ctx context.Context, uid string) error
	Delete(ctx context.Context, uid string) error
}

// ---------------------------------------------
// 🐘 PostgreSQL
// ---------------------------------------------

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const accountColumns = "uid, email, password_hash, display_name, photo_url, provider, subject, email_verified, created_at"

func (r *SQLRepository) Create(ctx context.Context, a *Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		a.UID, a.Email, a.PasswordHash, a.DisplayName, a.PhotoURL, a.Provider, a.Subject, a.EmailVerified, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailInUse
	}
	return err
}

func (r *SQLRepository) get(ctx context.Context, where string, arg any) (*Account, error) {
	a := &Account{}
	var subject sql.NullString
	query := "SELECT " + accountColumns + " FROM accounts WHERE " + where

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.UID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.PhotoURL, &a.Provider, &subject, &a.EmailVerified, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	a.Subject = subject.String
	return a, nil
}

func (r *SQLRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.get(ctx, "lower(email) = lower($1)", email)
}

func (r *SQLRepository) GetByID(ctx context.Context, uid string) (*Account, error) {
	return r.get(ctx, "uid = $1", uid)
}

func (r *SQLRepository) GetBySubject(ctx context.Context, subject string) (*Account, error) {
	return r.get(ctx, "subject = $1", subject)
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLRepository) UpdatePassword(ctx context.Context, uid, hash string) error {
	return r.exec(ctx, "UPDATE accounts SET password_hash = $2 WHERE uid = $1", uid, hash)
}

func (r *SQLRepository) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	return r.exec(ctx, "UPDATE accounts SET display_name = $2, photo_url = $3 WHERE uid = $1", uid, displayName, photoURL)
}

func (r *SQLRepository) SetEmailVerified(ctx context.Context, uid string) error {
	return r.exec(ctx, "UPDATE accounts SET email_verified = TRUE WHERE uid = $1", uid)
}

func (r *SQLRepository) Delete(ctx context.Context, uid string) error {
	return r.exec(ctx, "DELETE FROM accounts WHERE uid = $1", uid)
}

// ---------------------------------------------
// 🧠 In-memory
// ---------------------------------------------

type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*Account)}
}

func (r *MemoryRepository) Create(ctx context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, a.Email) || (a.Subject != "" && existing.Subject == a.Subject) {
			return ErrEmailInUse
		}
	}
	c := *a
	r.accounts[a.UID] = &c
	return nil
}

func (r *MemoryRepository) find(match func(a *Account) bool) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if match(a) {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.find(func(a *Account) bool { return strings.EqualFold(a.Email, email) })
}

func (r *MemoryRepository) GetByID(ctx context.Context, uid string) (*Account, error) {
	return r.find(func(a *Account) bool { return a.UID == uid })
}

func (r *MemoryRepository) GetBySubject(ctx context.Context, subject string) (*Account, error) {
	return r.find(func(a *Account) bool { return a.Subject != "" && a.Subject == subject })
}

func (r *MemoryRepository) update(uid string, fn func(a *Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[uid]
	if !ok {
		return ErrUserNotFound
	}
	fn(a)
	return nil
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, uid, hash string) error {
	return r.update(uid, func(a *Account) { a.PasswordHash = hash })
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	return r.update(uid, func(a *Account) {
		a.DisplayName = displayName
		a.PhotoURL = photoURL
	})
}

func (r *MemoryRepository) SetEmailVerified(ctx context.Context, uid string) error {
	return r.update(uid, func(a *Account) { a.EmailVerified = true })
}

func (r *MemoryRepository) Delete(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[uid]; !ok {
		return ErrUserNotFound
	}
	delete(r.accounts, uid)
	return nil
}
