package cache

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SessionStore. Entries live until the session
// is dropped or the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string][]byte)}
}

// Load returns a copy of the stored payload.
func (s *MemoryStore) Load(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.sessions[sessionID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

// Save stores a copy of the payload, replacing any previous value.
func (s *MemoryStore) Save(_ context.Context, sessionID, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.sessions[sessionID]
	if !ok {
		entries = make(map[string][]byte)
		s.sessions[sessionID] = entries
	}
	entries[key] = append([]byte(nil), payload...)
	return nil
}

// Drop removes every entry of a session.
func (s *MemoryStore) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ Dropper      = (*MemoryStore)(nil)
)
