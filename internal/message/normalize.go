// Package message normalizes heterogeneous inbound message events into one
// canonical shape and suppresses duplicates delivered over the backend's two
// independent broadcast paths.
package message

import (
	"time"

	"github.com/talkwire/talkwire-go/internal/protocol"
)

// Sender is the closed set of message author roles.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
	SenderBot   Sender = "bot"
)

// Canonical is the single message representation delivered to callbacks.
type Canonical struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Sender         Sender    `json:"sender"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId,omitempty"`
	Status         string    `json:"status,omitempty"`
	TempID         string    `json:"tempId,omitempty"`
}

// Normalize folds a raw message event into the canonical shape.
//
// The precedence orders exist because the backend broadcasts the same
// logical send twice: once before persistence (no durable id) and once
// after (durable message_id). The two shapes use different field names
// for the same concepts.
func Normalize(ev protocol.MessageEvent) Canonical {
	return Canonical{
		ID:             firstNonEmpty(ev.MessageID, ev.EventID, ev.ID),
		Text:           firstNonEmpty(ev.Text, ev.MessageText, ev.Message),
		Sender:         MapSender(firstNonEmpty(ev.Sender, ev.SenderType)),
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		Timestamp:      parseTimestamp(ev),
		ConversationID: ev.ConversationID,
		Status:         ev.Status,
		TempID:         ev.TempID,
	}
}

// MapSender translates raw sender strings into the closed role set.
func MapSender(raw string) Sender {
	switch raw {
	case "user":
		return SenderUser
	case "agent", "human":
		return SenderAgent
	default:
		return SenderBot
	}
}

// DedupeKey derives the content-based key used for duplicate suppression.
// It is deliberately not id-based: the two broadcast paths never share an
// id for the same logical message. The caller supplies the resolved
// conversation id because the pre-persistence shape usually omits it; keying
// on the raw event field would give the two paths different keys.
func DedupeKey(conversationID string, ev protocol.MessageEvent) string {
	text := firstNonEmpty(ev.Text, ev.MessageText, ev.Message)
	role := MapSender(firstNonEmpty(ev.Sender, ev.SenderType))
	return conversationID + ":" + string(role) + ":" + text
}

func parseTimestamp(ev protocol.MessageEvent) time.Time {
	for _, raw := range []string{ev.Timestamp, ev.CreatedAt, ev.InsertedAt} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return time.Now()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
