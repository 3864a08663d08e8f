package storage

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost 10 is roughly 60ms per hash; raise to 12 for hardened deployments.
	bcryptCost  = 10
	bcryptLimit = 72
)

// HashAPIKey generates a bcrypt hash of the API key for secure storage. Only
// the hash is persisted, never the plaintext key.
//
// Bcrypt has a 72-byte input limit; longer keys are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash performs constant-time comparison of an API key against a
// bcrypt hash. Returns false for any error condition.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) > bcryptLimit {
		sum := sha256.Sum256([]byte(apiKey))

		return sum[:]
	}

	return []byte(apiKey)
}
