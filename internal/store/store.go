// Package store persists the widget's local identity state: the stable
// session id, the server-assigned visitor id, and the cached conversation.
package store

import "time"

// Identity is the locally persisted visitor state. A fresh browser-equivalent
// install starts with a zero Identity; the client fills in a generated
// session id and whatever the handshake returns.
type Identity struct {
	SessionID             string
	Fingerprint           string
	VisitorID             string
	ConversationID        string
	ConversationExpiresAt time.Time // zero means no cached conversation
	DisplayName           string    // visitor name from the welcome flow
}

// ConversationExpired reports whether the cached conversation is unusable.
// A zero expiry with a non-empty conversation id means the server gave no
// deadline, which counts as still valid.
func (id Identity) ConversationExpired(now time.Time) bool {
	if id.ConversationID == "" {
		return true
	}
	return !id.ConversationExpiresAt.IsZero() && now.After(id.ConversationExpiresAt)
}

// IdentityStore loads and saves the local identity state.
type IdentityStore interface {
	Load() (Identity, error)
	Save(Identity) error
	// ClearVisitor drops the visitor id and cached conversation, keeping
	// the session id. Called when a conversation expires.
	ClearVisitor() error
	Close() error
}
