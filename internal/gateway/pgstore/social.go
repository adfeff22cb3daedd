package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go-social-chat/internal/gateway"
)

func insertDoc(ctx context.Context, db *sql.DB, kind, table, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "INSERT INTO "+table+" (id, doc) VALUES ($1, $2)", id, doc)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("%s %q: %w", kind, id, gateway.ErrAlreadyExists)
	}
	return err
}

// mutateDoc locks the row, runs fn on the decoded document and writes it
// back. An error from fn rolls the transaction back.
func mutateDoc[T any](ctx context.Context, tx *sql.Tx, kind, table, id string, fn func(v *T) error) error {
	v, err := getDoc[T](ctx, tx, kind, "SELECT doc FROM "+table+" WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE "+table+" SET doc = $2 WHERE id = $1", id, doc)
	return err
}

// ---------------------------------------------
// 🤝 Friend Requests & Batches
// ---------------------------------------------

func (s *Store) CreateFriendRequest(ctx context.Context, r *gateway.FriendRequest) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	return insertDoc(ctx, s.db, "friend request", "friend_requests", r.ID, r)
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (*gateway.FriendRequest, error) {
	return getDoc[gateway.FriendRequest](ctx, s.db, "friend request", "SELECT doc FROM friend_requests WHERE id = $1", id)
}

type batchOp func(ctx context.Context, tx *sql.Tx) error

// batch queues mutations for one transaction.
type batch struct {
	ops     []batchOp
	friends bool
}

func (b *batch) AcceptFriendRequest(requestID string, at time.Time) {
	b.ops = append(b.ops, func(ctx context.Context, tx *sql.Tx) error {
		return mutateDoc(ctx, tx, "friend request", "friend_requests", requestID, func(r *gateway.FriendRequest) error {
			if r.Status != gateway.RequestPending {
				return fmt.Errorf("friend request %q already %s: %w", requestID, r.Status, gateway.ErrAlreadyExists)
			}
			r.Status = gateway.RequestAccepted
			r.AcceptedAt = &at
			return nil
		})
	})
}

func (b *batch) AddFriend(uid, friendID string) {
	b.friends = true
	b.ops = append(b.ops, func(ctx context.Context, tx *sql.Tx) error {
		p, err := lockProfile(ctx, tx, uid)
		if err != nil {
			return err
		}
		p.Friends = gateway.AppendUnique(p.Friends, friendID)
		p.Stats.FriendsCount++
		return saveProfile(ctx, tx, p)
	})
}

func (s *Store) Batch(ctx context.Context, fn func(b gateway.Batch) error) error {
	b := &batch{}
	if err := fn(b); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, op := range b.ops {
			if err := op(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if b.friends {
		s.feed.Publish(ctx, "batch", gateway.OnlineUsersTopic)
	}
	return nil
}

// ---------------------------------------------
// 🔔 Notifications
// ---------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n *gateway.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, created_at, doc) VALUES ($1, $2, $3, $4)",
		n.ID, n.UserID, n.CreatedAt, doc)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, uid string) ([]gateway.Notification, error) {
	return listDocs[gateway.Notification](ctx, s.db,
		"SELECT doc FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id ASC", uid)
}

func (s *Store) MarkNotificationRead(ctx context.Context, uid, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return mutateDoc(ctx, tx, "notification", "notifications", id, func(n *gateway.Notification) error {
			if n.UserID != uid {
				return notFound("notification", id)
			}
			n.Read = true
			return nil
		})
	})
}

// ---------------------------------------------
// 👥 Groups & Voice Rooms
// ---------------------------------------------

func (s *Store) CreateGroup(ctx context.Context, g *gateway.GroupInfo) error {
	return insertDoc(ctx, s.db, "group", "groups", g.ID, g)
}

func (s *Store) GetGroup(ctx context.Context, id string) (*gateway.GroupInfo, error) {
	return getDoc[gateway.GroupInfo](ctx, s.db, "group", "SELECT doc FROM groups WHERE id = $1", id)
}

func (s *Store) UpdateGroup(ctx context.Context, id string, fn func(g *gateway.GroupInfo) error) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return mutateDoc(ctx, tx, "group", "groups", id, func(g *gateway.GroupInfo) error {
			if err := fn(g); err != nil {
				return err
			}
			g.UpdatedAt = now
			return nil
		})
	})
}

func (s *Store) CreateVoiceRoom(ctx context.Context, r *gateway.VoiceRoom) error {
	return insertDoc(ctx, s.db, "voice room", "voice_rooms", r.ID, r)
}

func (s *Store) GetVoiceRoom(ctx context.Context, id string) (*gateway.VoiceRoom, error) {
	return getDoc[gateway.VoiceRoom](ctx, s.db, "voice room", "SELECT doc FROM voice_rooms WHERE id = $1", id)
}

func (s *Store) UpdateVoiceRoom(ctx context.Context, id string, fn func(r *gateway.VoiceRoom) error) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return mutateDoc(ctx, tx, "voice room", "voice_rooms", id, func(r *gateway.VoiceRoom) error {
			if err := fn(r); err != nil {
				return err
			}
			r.UpdatedAt = now
			return nil
		})
	})
}
