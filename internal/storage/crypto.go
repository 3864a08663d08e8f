package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrCipherKeyMissing is returned when sealed-config operations run without
	// a configured encryption key.
	ErrCipherKeyMissing = errors.New("encryption key not configured")

	// ErrCiphertextTooShort is returned for sealed blobs shorter than a nonce.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// ConfigCipher seals and opens connection configuration bags with
// XChaCha20-Poly1305. The sealed form is nonce || ciphertext; the nonce is
// random per seal, so encrypting the same config twice yields different blobs.
type ConfigCipher struct {
	key []byte
}

// NewConfigCipher builds a cipher from a 64-hex-character key.
func NewConfigCipher(keyHex string) (*ConfigCipher, error) {
	if keyHex == "" {
		return nil, ErrCipherKeyMissing
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEncryptionKey, err)
	}

	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidEncryptionKey
	}

	return &ConfigCipher{key: key}, nil
}

// GenerateEncryptionKey returns a fresh random key in hex form, suitable for
// VERIFLOW_ENCRYPTION_KEY.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}

	return hex.EncodeToString(key), nil
}

// Seal encrypts a connection config bag. The connection_type key is stripped
// before sealing; Open re-injects it from the stored connection row.
func (c *ConfigCipher) Seal(cfg map[string]any) ([]byte, error) {
	if c == nil {
		return nil, ErrCipherKeyMissing
	}

	plain := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k == "connection_type" {
			continue
		}

		plain[k] = v
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize connection config: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts a sealed config blob and re-injects connection_type.
func (c *ConfigCipher) Open(sealed []byte, connectionType string) (map[string]any, error) {
	if c == nil {
		return nil, ErrCipherKeyMissing
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	data, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt connection config: %w", err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize connection config: %w", err)
	}

	if connectionType != "" {
		cfg["connection_type"] = connectionType
	}

	return cfg, nil
}
