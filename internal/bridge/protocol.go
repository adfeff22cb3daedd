package bridge

import (
	"encoding/json"
	"errors"

	"go-social-chat/internal/conversation"
	"go-social-chat/internal/gateway"
	"go-social-chat/internal/session"
)

// ---------------------------------------------
// 📦 Wire frames
// ---------------------------------------------

// Request is what the browser sends: an operation and its arguments.
type Request struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply answers one Request. Code is set on failure and names the error
// kind; Error carries the provider's message.
type Reply struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Event is pushed whenever a container changes.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

const (
	EventSession       = "session"
	EventConversations = "conversations"
	EventMessages      = "messages"
	EventOnline        = "online"
)

// SessionView is the wire form of session.State.
type SessionView struct {
	Identity *gateway.AuthUser `json:"identity"`
	Profile  *gateway.Profile  `json:"profile"`
	Loading  bool              `json:"loading"`
	Error    string            `json:"error,omitempty"`
}

func sessionView(s session.State) SessionView {
	v := SessionView{Identity: s.Identity, Profile: s.Profile, Loading: s.Loading}
	if s.LastError != nil {
		v.Error = s.LastError.Error()
	}
	return v
}

type MessagesView struct {
	ConversationID string            `json:"conversationId"`
	Messages       []gateway.Message `json:"messages"`
}

func messagesView(s conversation.State) MessagesView {
	v := MessagesView{Messages: s.Messages}
	if s.Selected != nil {
		v.ConversationID = s.Selected.ID
	}
	if v.Messages == nil {
		v.Messages = []gateway.Message{}
	}
	return v
}

// errorCode maps an error onto the kinds the browser distinguishes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, gateway.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, gateway.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, gateway.ErrNoActiveConversation):
		return "no_active_conversation"
	case errors.Is(err, gateway.ErrNotFound):
		return "not_found"
	case errors.Is(err, gateway.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, gateway.ErrInvalidArgument):
		return "invalid_argument"
	}
	return "gateway_failure"
}
