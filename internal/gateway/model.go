package gateway

import "time"

// ---------------------------------------------
// 👤 Identity & Profile
// ---------------------------------------------

type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

const (
	ProviderPassword  = "password"
	ProviderFederated = "federated"
)

// AuthUser is the identity held by the auth provider.
type AuthUser struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	PhotoURL      string `json:"photo_url"`
	Provider      string `json:"provider"`
	EmailVerified bool   `json:"email_verified"`
}

type Privacy struct {
	ProfileVisible   bool `json:"profileVisible"`
	Searchable       bool `json:"searchable"`
	ShowOnlineStatus bool `json:"showOnlineStatus"`
	ShowLastSeen     bool `json:"showLastSeen"`
}

type NotificationSettings struct {
	Messages       bool `json:"messages"`
	Groups         bool `json:"groups"`
	FriendRequests bool `json:"friendRequests"`
}

type SecuritySettings struct {
	TwoFactorEnabled bool `json:"twoFactorEnabled"`
	LoginAlerts      bool `json:"loginAlerts"`
}

type Settings struct {
	Theme         string               `json:"theme"`
	Language      string               `json:"language"`
	Notifications NotificationSettings `json:"notifications"`
	Security      SecuritySettings     `json:"security"`
}

type Stats struct {
	FriendsCount int `json:"friendsCount"`
	GroupsCount  int `json:"groupsCount"`
	MessagesSent int `json:"messagesSent"`
}

// Profile is the application document describing a user. It shares its key
// with the AuthUser.
type Profile struct {
	UID         string     `json:"uid"`
	DisplayName string     `json:"displayName"`
	Email       string     `json:"email"`
	PhotoURL    string     `json:"photoURL"`
	Bio         string     `json:"bio"`
	Status      Presence   `json:"status"`
	LastSeen    time.Time  `json:"lastSeen"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Friends     []string   `json:"friends"`
	Privacy     Privacy    `json:"privacy"`
	Settings    Settings   `json:"settings"`
	Stats       Stats      `json:"stats"`
	Deleted     bool       `json:"deleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// ProfileUpdate is a partial profile write. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string   `json:"displayName,omitempty"`
	PhotoURL    *string   `json:"photoURL,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	Privacy     *Privacy  `json:"privacy,omitempty"`
	Settings    *Settings `json:"settings,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.PhotoURL == nil && u.Bio == nil && u.Privacy == nil && u.Settings == nil
}

// Apply merges the update into p and stamps UpdatedAt.
func (u ProfileUpdate) Apply(p *Profile, now time.Time) {
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.PhotoURL != nil {
		p.PhotoURL = *u.PhotoURL
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.Privacy != nil {
		p.Privacy = *u.Privacy
	}
	if u.Settings != nil {
		p.Settings = *u.Settings
	}
	p.UpdatedAt = now
}

// ---------------------------------------------
// 💬 Conversations & Messages
// ---------------------------------------------

type ConversationKind string

const (
	Direct ConversationKind = "direct"
	Group  ConversationKind = "group"
)

type Conversation struct {
	ID              string           `json:"id"`
	Participants    []string         `json:"participants"`
	Kind            ConversationKind `json:"type"`
	LastMessage     string           `json:"lastMessage"`
	LastMessageTime *time.Time       `json:"lastMessageTime"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	UnreadCount     map[string]int   `json:"unreadCount"`
}

// HasParticipant tells whether uid takes part in the conversation.
func (c *Conversation) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

type MessageKind string

const (
	TextMessage  MessageKind = "text"
	ImageMessage MessageKind = "image"
	FileMessage  MessageKind = "file"
	AudioMessage MessageKind = "audio"
	VideoMessage MessageKind = "video"
)

type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"chatId"`
	SenderID       string              `json:"senderId"`
	Content        string              `json:"content"`
	Kind           MessageKind         `json:"type"`
	Timestamp      time.Time           `json:"timestamp"`
	Edited         bool                `json:"edited"`
	Deleted        bool                `json:"deleted"`
	ReadBy         []string            `json:"readBy"`
	Reactions      map[string][]string `json:"reactions"`
	Metadata       map[string]string   `json:"metadata"`
}

// Preview is the denormalized last-message summary written to a conversation
// after each send.
type Preview struct {
	Text     string
	At       time.Time
	SenderID string
}

// PreviewText is what a conversation shows for its last message.
func PreviewText(kind MessageKind, content string) string {
	if kind == TextMessage || kind == "" {
		return content
	}
	return "Sent a " + string(kind)
}

// ---------------------------------------------
// 🤝 Friends & Notifications
// ---------------------------------------------

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
)

type FriendRequest struct {
	ID         string        `json:"id"`
	FromUserID string        `json:"fromUserId"`
	ToUserID   string        `json:"toUserId"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	AcceptedAt *time.Time    `json:"acceptedAt,omitempty"`
}

const NotificationFriendRequest = "friend_request"

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Kind      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
	Data      map[string]string `json:"data"`
}

// ---------------------------------------------
// 👥 Groups & Voice Rooms
// ---------------------------------------------

type GroupSettings struct {
	AllowInvites     bool `json:"allowInvites"`
	AllowMemberPosts bool `json:"allowMemberPosts"`
	RequireApproval  bool `json:"requireApproval"`
	AllowVoiceChat   bool `json:"allowVoiceChat"`
	MaxMembers       int  `json:"maxMembers"`
}

// GroupSettingsPatch is a partial settings update.
type GroupSettingsPatch struct {
	AllowInvites     *bool `json:"allowInvites,omitempty"`
	AllowMemberPosts *bool `json:"allowMemberPosts,omitempty"`
	RequireApproval  *bool `json:"requireApproval,omitempty"`
	AllowVoiceChat   *bool `json:"allowVoiceChat,omitempty"`
	MaxMembers       *int  `json:"maxMembers,omitempty"`
}

func (p GroupSettingsPatch) Apply(s *GroupSettings) {
	if p.AllowInvites != nil {
		s.AllowInvites = *p.AllowInvites
	}
	if p.AllowMemberPosts != nil {
		s.AllowMemberPosts = *p.AllowMemberPosts
	}
	if p.RequireApproval != nil {
		s.RequireApproval = *p.RequireApproval
	}
	if p.AllowVoiceChat != nil {
		s.AllowVoiceChat = *p.AllowVoiceChat
	}
	if p.MaxMembers != nil {
		s.MaxMembers = *p.MaxMembers
	}
}

type GroupStats struct {
	MessagesCount int `json:"messagesCount"`
	VoiceSessions int `json:"voiceSessions"`
}

type GroupInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	OwnerID     string        `json:"ownerId"`
	Admins      []string      `json:"admins"`
	Members     []string      `json:"members"`
	IsPublic    bool          `json:"isPublic"`
	MemberCount int           `json:"memberCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Settings    GroupSettings `json:"settings"`
	Stats       GroupStats    `json:"stats"`
}

func (g *GroupInfo) IsAdmin(uid string) bool  { return contains(g.Admins, uid) }
func (g *GroupInfo) IsMember(uid string) bool { return contains(g.Members, uid) }

type VoiceRoomSettings struct {
	MuteOnJoin       bool `json:"muteOnJoin"`
	AllowScreenShare bool `json:"allowScreenShare"`
	RecordingAllowed bool `json:"recordingAllowed"`
}

type VoiceRoom struct {
	ID              string            `json:"id"`
	GroupID         string            `json:"groupId"`
	Name            string            `json:"name"`
	HostID          string            `json:"hostId"`
	Participants    []string          `json:"participants"`
	MaxParticipants int               `json:"maxParticipants"`
	IsActive        bool              `json:"isActive"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Settings        VoiceRoomSettings `json:"settings"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
