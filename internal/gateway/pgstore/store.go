// Package pgstore is the PostgreSQL-backed document store. Documents are kept
// as JSONB; live queries are driven by a Redis change feed.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"go-social-chat/internal/gateway"
)

type Store struct {
	db   *sql.DB
	feed *Feed
	log  *zap.Logger
	now  func() time.Time
}

var _ gateway.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(l *zap.Logger) Option       { return func(s *Store) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(db *sql.DB, feed *Feed, opts ...Option) *Store {
	s := &Store{db: db, feed: feed, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, gateway.ErrNotFound)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getDoc[T any](ctx context.Context, q queryer, kind, query string, id string) (*T, error) {
	var raw []byte
	if err := q.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kind, id)
		}
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", kind, id, err)
	}
	return out, nil
}

func listDocs[T any](ctx context.Context, q queryer, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---------------------------------------------
// 👤 Profiles
// ---------------------------------------------

func (s *Store) GetProfile(ctx context.Context, uid string) (*gateway.Profile, error) {
	return getDoc[gateway.Profile](ctx, s.db, "profile", "SELECT doc FROM profiles WHERE uid = $1", uid)
}

func (s *Store) CreateProfile(ctx context.Context, p *gateway.Profile) error {
	if p.UID == "" {
		return gateway.Invalid("profile uid is required")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO profiles (uid, status, deleted, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET status = EXCLUDED.status, deleted = EXCLUDED.deleted, doc = EXCLUDED.doc`
	if _, err := s.db.ExecContext(ctx, query, p.UID, string(p.Status), p.Deleted, doc); err != nil {
		return err
	}
	s.feed.Publish(ctx, p.UID, gateway.OnlineUsersTopic)
	return nil
}

func lockProfile(ctx context.Context, tx *sql.Tx, uid string) (*gateway.Profile, error) {
	return getDoc[gateway.Profile](ctx, tx, "profile", "SELECT doc FROM profiles WHERE uid = $1 FOR UPDATE", uid)
}

func saveProfile(ctx context.Context, tx *sql.Tx, p *gateway.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE profiles SET status = $2, deleted = $3, doc = $4 WHERE uid = $1",
		p.UID, string(p.Status), p.Deleted, doc)
	return err
}

func (s *Store) updateProfile(ctx context.Context, uid string, fn func(p *gateway.Profile)) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := lockProfile(ctx, tx, uid)
		if err != nil {
			return err
		}
		fn(p)
		return saveProfile(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	s.feed.Publish(ctx, uid, gateway.OnlineUsersTopic)
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, uid string, u gateway.ProfileUpdate) error {
	now := s.now()
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) { u.Apply(p, now) })
}

func (s *Store) SetPresence(ctx context.Context, uid string, status gateway.Presence, at time.Time) error {
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) {
		p.Status = status
		p.LastSeen = at
	})
}

func (s *Store) SetPhotoAndPresence(ctx context.Context, uid, photoURL string, status gateway.Presence, at time.Time) error {
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) {
		p.PhotoURL = photoURL
		p.Status = status
		p.LastSeen = at
	})
}

func (s *Store) MarkDeleted(ctx context.Context, uid string, at time.Time) error {
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) {
		p.Deleted = true
		p.DeletedAt = &at
	})
}

func (s *Store) IncrementMessagesSent(ctx context.Context, uid string) error {
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) { p.Stats.MessagesSent++ })
}

func (s *Store) IncrementGroupsCount(ctx context.Context, uid string) error {
	return s.updateProfile(ctx, uid, func(p *gateway.Profile) { p.Stats.GroupsCount++ })
}

func (s *Store) onlineUsers(ctx context.Context) ([]gateway.Profile, error) {
	return listDocs[gateway.Profile](ctx, s.db,
		"SELECT doc FROM profiles WHERE status = 'online' AND NOT deleted ORDER BY uid")
}

func (s *Store) SubscribeOnlineUsers(ctx context.Context, fn gateway.SnapshotFunc[gateway.Profile]) (gateway.Subscription, error) {
	return watch(ctx, s.feed, gateway.OnlineUsersTopic, s.onlineUsers, fn)
}

// ---------------------------------------------
// 💬 Conversations & Messages
// ---------------------------------------------

func (s *Store) CreateConversation(ctx context.Context, c *gateway.Conversation) (*gateway.Conversation, error) {
	if c.ID == "" {
		return nil, gateway.Invalid("conversation id is required")
	}
	stored := *c
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.UnreadCount == nil {
		stored.UnreadCount = map[string]int{}
	}
	doc, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, last_message_time, doc) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
		stored.ID, stored.LastMessageTime, doc)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetConversation(ctx, c.ID)
	}
	s.feed.Publish(ctx, stored.ID, conversationTopics(stored.Participants)...)
	return &stored, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*gateway.Conversation, error) {
	return getDoc[gateway.Conversation](ctx, s.db, "conversation", "SELECT doc FROM conversations WHERE id = $1", id)
}

func (s *Store) updateConversation(ctx context.Context, id string, fn func(c *gateway.Conversation)) (touched []string, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getDoc[gateway.Conversation](ctx, tx, "conversation", "SELECT doc FROM conversations WHERE id = $1 FOR UPDATE", id)
		if err != nil {
			return err
		}
		touched = append(touched, c.Participants...)
		fn(c)
		touched = append(touched, c.Participants...)
		doc, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE conversations SET last_message_time = $2, doc = $3 WHERE id = $1",
			id, c.LastMessageTime, doc)
		return err
	})
	return touched, err
}

func (s *Store) SetParticipants(ctx context.Context, id string, participants []string) error {
	now := s.now()
	touched, err := s.updateConversation(ctx, id, func(c *gateway.Conversation) {
		c.Participants = append([]string(nil), participants...)
		c.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	s.feed.Publish(ctx, id, conversationTopics(touched)...)
	return nil
}

// AddMessage stamps the message with the server time before storing it.
func (s *Store) AddMessage(ctx context.Context, m *gateway.Message) error {
	if m.ID == "" {
		return gateway.Invalid("message id is required")
	}
	m.Timestamp = s.now()
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sent_at, doc) VALUES ($1, $2, $3, $4)",
		m.ID, m.ConversationID, m.Timestamp, doc)
	if pgCode(err) == pgForeignKeyViolation {
		return notFound("conversation", m.ConversationID)
	}
	if err != nil {
		return err
	}
	s.feed.Publish(ctx, m.ID, gateway.MessagesTopic(m.ConversationID))
	return nil
}

func (s *Store) UpdatePreview(ctx context.Context, conversationID string, p gateway.Preview) error {
	at := p.At
	if at.IsZero() {
		at = s.now()
	}
	touched, err := s.updateConversation(ctx, conversationID, func(c *gateway.Conversation) {
		c.LastMessage = p.Text
		c.LastMessageTime = &at
		c.UpdatedAt = at
		if c.UnreadCount == nil {
			c.UnreadCount = map[string]int{}
		}
		c.UnreadCount[p.SenderID] = 0
	})
	if err != nil {
		return err
	}
	s.feed.Publish(ctx, conversationID, conversationTopics(touched)...)
	return nil
}

func (s *Store) SubscribeMessages(ctx context.Context, conversationID string, fn gateway.SnapshotFunc[gateway.Message]) (gateway.Subscription, error) {
	query := func(ctx context.Context) ([]gateway.Message, error) {
		return listDocs[gateway.Message](ctx, s.db,
			"SELECT doc FROM messages WHERE conversation_id = $1 ORDER BY sent_at ASC, id ASC", conversationID)
	}
	return watch(ctx, s.feed, gateway.MessagesTopic(conversationID), query, fn)
}

func (s *Store) SubscribeConversations(ctx context.Context, uid string, fn gateway.SnapshotFunc[gateway.Conversation]) (gateway.Subscription, error) {
	query := func(ctx context.Context) ([]gateway.Conversation, error) {
		return listDocs[gateway.Conversation](ctx, s.db,
			`SELECT doc FROM conversations WHERE doc->'participants' ? $1
			 ORDER BY last_message_time DESC NULLS LAST, id ASC`, uid)
	}
	return watch(ctx, s.feed, gateway.ConversationsTopic(uid), query, fn)
}

func conversationTopics(uids []string) []string {
	seen := make(map[string]bool, len(uids))
	topics := make([]string, 0, len(uids))
	for _, uid := range uids {
		if !seen[uid] {
			seen[uid] = true
			topics = append(topics, gateway.ConversationsTopic(uid))
		}
	}
	return topics
}
