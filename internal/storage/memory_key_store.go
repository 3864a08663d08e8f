package storage

import (
	"context"
	"sync"
)

// MemoryKeyStore provides thread-safe in-memory API key storage. Used in tests
// and single-node deployments that provision keys at boot.
type MemoryKeyStore struct {
	mu       sync.RWMutex
	keys     map[string]*APIKey // plaintext key -> record
	keysByID map[string]*APIKey
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys:     make(map[string]*APIKey),
		keysByID: make(map[string]*APIKey),
	}
}

// FindByKey retrieves an API key by its plaintext value.
func (s *MemoryKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists || !apiKey.Usable() {
		return nil, false
	}

	keyCopy := *apiKey

	return &keyCopy, true
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryKeyStore) HealthCheck(_ context.Context) error {
	return nil
}

// Add stores a new API key.
func (s *MemoryKeyStore) Add(apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey
	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy

	return nil
}

// Delete removes an API key by ID.
func (s *MemoryKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	delete(s.keys, existing.Key)
	delete(s.keysByID, keyID)

	return nil
}
