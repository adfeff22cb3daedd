package gateway

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DirectConversationID is the id of the direct conversation between the given
// users. It does not depend on argument order, so a pair maps to one
// conversation only.
func DirectConversationID(participants ...string) string {
	ids := append([]string(nil), participants...)
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// FriendRequestID keys a request by its ordered (from, to) pair.
func FriendRequestID(from, to string) string {
	return from + "_" + to
}

func NewGroupID() string     { return "group_" + uuid.NewString() }
func NewVoiceRoomID() string { return "voice_" + uuid.NewString() }

// NewMessageID returns a UUIDv7, which sorts by creation time.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewNotificationID() string { return uuid.NewString() }

// NewProfile builds the document created on first sign-in.
func NewProfile(u *AuthUser, now time.Time) *Profile {
	return &Profile{
		UID:         u.UID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		PhotoURL:    u.PhotoURL,
		Status:      Online,
		LastSeen:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Friends:     []string{},
		Privacy: Privacy{
			ProfileVisible:   true,
			Searchable:       true,
			ShowOnlineStatus: true,
			ShowLastSeen:     true,
		},
		Settings: Settings{
			Theme:    "light",
			Language: "en",
			Notifications: NotificationSettings{
				Messages:       true,
				Groups:         true,
				FriendRequests: true,
			},
			Security: SecuritySettings{
				TwoFactorEnabled: false,
				LoginAlerts:      true,
			},
		},
	}
}

func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		AllowInvites:     true,
		AllowMemberPosts: true,
		RequireApproval:  false,
		AllowVoiceChat:   true,
		MaxMembers:       100,
	}
}

const DefaultVoiceRoomCapacity = 50

func DefaultVoiceRoomSettings() VoiceRoomSettings {
	return VoiceRoomSettings{
		MuteOnJoin:       false,
		AllowScreenShare: true,
		RecordingAllowed: false,
	}
}

// AppendUnique adds v to list unless it is already present.
func AppendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

// RemoveValue drops every occurrence of v from list.
func RemoveValue(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
