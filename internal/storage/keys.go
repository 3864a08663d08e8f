package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants: "veriflow_ak_" + 64 hex chars.
	keyPrefix       = "veriflow_ak_"
	randomBytesSize = 32
	apiKeyLength    = len(keyPrefix) + randomBytesSize*2
	maskPrefixLen   = 16 // Show "veriflow_ak_1234"
	maskSuffixLen   = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil or empty API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrKeyStringEmpty is returned when a key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key has the wrong length.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// APIKey identifies an API client. The Key field holds the plaintext value
// only transiently at creation time; persisted keys carry the bcrypt hash.
type APIKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// APIKeyStore is the lookup interface the auth middleware depends on.
type APIKeyStore interface {
	// FindByKey retrieves an API key by its plaintext value.
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// Usable reports whether the key is active and unexpired.
func (k *APIKey) Usable() bool {
	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}

	return true
}

// SecureCompare performs constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Compare against a dummy of the same length to keep timing constant.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for logging, showing only the prefix and last four
// characters of standard-format keys. Nonstandard lengths are fully masked.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)
	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new random API key in the standard format.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return keyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey validates a key extracted from a request header.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, keyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}
