// Package protocol defines the wire protocol between the widget client and
// the gateway's streaming channel. Every server event the client understands
// has a typed payload; unknown events are surfaced as ErrUnknownEvent so the
// caller can log and drop them instead of guessing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventConversationCreated = "conversation:created"
	EventConversationUpdated = "conversation:update"
	EventConversationClosed  = "conversation:closed"
	EventSessionUpdated      = "session:updated"
	// EventMessage is the post-persistence delivery: the message has a
	// durable id and a conversation id.
	EventMessage = "message"
	// EventMessageCreated fires before the backend persists the message.
	// It is the same logical send as a later EventMessage, with different
	// field names and no durable id.
	EventMessageCreated = "message:created"
	EventRoomJoined     = "room:joined"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventOnlineUsers    = "online:users"
)

// Outbound event names.
const (
	EventJoinRoom           = "room:join"
	EventLeaveRoom          = "room:leave"
	EventSendMessage        = "message:send"
	EventOnlineUsersRequest = "online:users:get"
)

// ErrUnknownEvent is returned by Decode for event names outside the
// supported set.
var ErrUnknownEvent = errors.New("protocol: unknown event")

// Frame is the envelope for every message on the streaming channel.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame with a marshaled payload.
func NewFrame(event string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Payload: raw}, nil
}

// MessageEvent is the union of the field names the backend uses across its
// two message broadcast paths. The normalizer folds these into one
// canonical shape.
type MessageEvent struct {
	MessageID string `json:"message_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	ID        string `json:"id,omitempty"`

	Text        string `json:"text,omitempty"`
	MessageText string `json:"message_text,omitempty"`
	Message     string `json:"message,omitempty"`

	Sender     string `json:"sender,omitempty"`
	SenderType string `json:"sender_type,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`

	Timestamp  string `json:"timestamp,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	InsertedAt string `json:"inserted_at,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	TempID         string `json:"temp_id,omitempty"`
	Status         string `json:"status,omitempty"`
}

// ConversationEvent announces a conversation's creation, update, or close.
// Servers have been observed to put the identifier in either field.
type ConversationEvent struct {
	ID             string  `json:"id,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	ClosedAt       *string `json:"closed_at,omitempty"`
}

// Conversation returns the identifier regardless of which field carried it.
func (e ConversationEvent) Conversation() string {
	if e.ConversationID != "" {
		return e.ConversationID
	}
	return e.ID
}

// SessionEvent carries server-side updates to the visitor's session and,
// optionally, a conversation id discovered after the session room join.
type SessionEvent struct {
	SessionID      string `json:"session_id,omitempty"`
	VisitorID      string `json:"visitor_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RoomJoined confirms membership in a room previously requested via
// EventJoinRoom.
type RoomJoined struct {
	Room string `json:"room"`
}

// PresenceUser identifies a user in presence events (admin mode only).
type PresenceUser struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// OnlineUsers lists currently online users (admin mode only).
type OnlineUsers struct {
	Users []PresenceUser `json:"users"`
}

// JoinRoom requests membership in a named room.
type JoinRoom struct {
	Room string `json:"room"`
}

// LeaveRoom relinquishes membership in a named room.
type LeaveRoom struct {
	Room string `json:"room"`
}

// Decode maps a frame to its typed payload. Returns ErrUnknownEvent for
// event names outside the closed set.
func Decode(f Frame) (any, error) {
	var (
		v   any
		err error
	)
	switch f.Event {
	case EventMessage, EventMessageCreated:
		ev := MessageEvent{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	case EventConversationCreated, EventConversationUpdated, EventConversationClosed:
		ev := ConversationEvent{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	case EventSessionUpdated:
		ev := SessionEvent{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	case EventRoomJoined:
		ev := RoomJoined{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	case EventUserOnline, EventUserOffline:
		ev := PresenceUser{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	case EventOnlineUsers:
		ev := OnlineUsers{}
		err = json.Unmarshal(f.Payload, &ev)
		v = ev
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", f.Event, err)
	}
	return v, nil
}

// SessionRoom returns the room name for an anonymous session.
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// ConversationRoom returns the room name for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}
