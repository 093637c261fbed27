package auth

import (
	"context"
	"sync"
)

// Storage keys. Durable keys survive process restarts; the verifier key
// lives in ephemeral storage only.
const (
	KeyAuthToken    = "auth_token"
	KeyIDToken      = "id_token"
	KeyUserData     = "user_data"
	KeyCodeVerifier = "code_verifier"
)

// DurableStore holds session state across restarts. Writers run on a
// single flow at a time; last writer wins.
type DurableStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// EphemeralStore holds short-lived login state (the PKCE verifier). It is
// scoped to the current process and never outlives a logout.
type EphemeralStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a mutex-guarded map store usable as either DurableStore
// or EphemeralStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
