package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the account table and the document tables. Documents
// live in a JSONB column; the plain columns next to it exist only for lookups
// and ordering.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            uid            TEXT PRIMARY KEY,
            email          TEXT UNIQUE NOT NULL,
            password_hash  TEXT NOT NULL DEFAULT '',
            display_name   TEXT NOT NULL DEFAULT '',
            photo_url      TEXT NOT NULL DEFAULT '',
            provider       TEXT NOT NULL,
            subject        TEXT UNIQUE,
            email_verified BOOLEAN NOT NULL DEFAULT FALSE,
            created_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS profiles (
            uid     TEXT PRIMARY KEY,
            status  TEXT NOT NULL DEFAULT 'offline',
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            doc     JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS profiles_status_idx ON profiles (status) WHERE NOT deleted`,

		`CREATE TABLE IF NOT EXISTS conversations (
            id                TEXT PRIMARY KEY,
            last_message_time TIMESTAMPTZ,
            doc               JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS conversations_participants_idx ON conversations USING GIN ((doc->'participants'))`,

		`CREATE TABLE IF NOT EXISTS messages (
            id              TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sent_at         TIMESTAMPTZ NOT NULL,
            doc             JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, sent_at)`,

		`CREATE TABLE IF NOT EXISTS friend_requests (
            id  TEXT PRIMARY KEY,
            doc JSONB NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id         TEXT PRIMARY KEY,
            user_id    TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            doc        JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS groups (
            id  TEXT PRIMARY KEY,
            doc JSONB NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS voice_rooms (
            id  TEXT PRIMARY KEY,
            doc JSONB NOT NULL
        )`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
