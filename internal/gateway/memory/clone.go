package memory

import (
	"maps"
	"slices"
	"time"

	"go-social-chat/internal/gateway"
)

// Documents handed out or taken in are copied so callers never alias store state.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneProfile(p *gateway.Profile) *gateway.Profile {
	c := *p
	c.Friends = slices.Clone(p.Friends)
	c.DeletedAt = cloneTime(p.DeletedAt)
	return &c
}

func cloneConversation(v *gateway.Conversation) *gateway.Conversation {
	c := *v
	c.Participants = slices.Clone(v.Participants)
	c.LastMessageTime = cloneTime(v.LastMessageTime)
	c.UnreadCount = maps.Clone(v.UnreadCount)
	return &c
}

func cloneMessage(m *gateway.Message) *gateway.Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	c.Metadata = maps.Clone(m.Metadata)
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = slices.Clone(v)
		}
	}
	return &c
}

func cloneRequest(r *gateway.FriendRequest) *gateway.FriendRequest {
	c := *r
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	return &c
}

func cloneNotification(n *gateway.Notification) *gateway.Notification {
	c := *n
	c.Data = maps.Clone(n.Data)
	return &c
}

func cloneGroup(g *gateway.GroupInfo) *gateway.GroupInfo {
	c := *g
	c.Admins = slices.Clone(g.Admins)
	c.Members = slices.Clone(g.Members)
	return &c
}

func cloneRoom(r *gateway.VoiceRoom) *gateway.VoiceRoom {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	return &c
}
