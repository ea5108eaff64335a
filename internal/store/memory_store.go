package store

import (
	"sync"
	"time"
)

// MemoryIdentityStore is an in-process IdentityStore. Used in tests and by
// embedders that do not want disk state.
type MemoryIdentityStore struct {
	mu sync.Mutex
	id Identity
}

// NewMemoryIdentityStore creates an empty in-memory identity store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{}
}

// Load returns the current identity snapshot.
func (s *MemoryIdentityStore) Load() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

// Save replaces the identity.
func (s *MemoryIdentityStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

// ClearVisitor drops visitor and conversation state, keeping the session.
func (s *MemoryIdentityStore) ClearVisitor() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id.VisitorID = ""
	s.id.ConversationID = ""
	s.id.ConversationExpiresAt = time.Time{}
	return nil
}

// Close is a no-op.
func (s *MemoryIdentityStore) Close() error { return nil }
