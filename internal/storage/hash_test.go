package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAPIKey(t *testing.T) {
	t.Run("hashes a standard key", func(t *testing.T) {
		key, err := GenerateAPIKey()
		require.NoError(t, err)

		hash, err := HashAPIKey(key)
		require.NoError(t, err)
		assert.NotEqual(t, key, hash)
		assert.True(t, strings.HasPrefix(hash, "$2"))
	})

	t.Run("rejects empty key", func(t *testing.T) {
		_, err := HashAPIKey("")
		assert.ErrorIs(t, err, ErrKeyNil)
	})

	t.Run("same key hashes differently each time", func(t *testing.T) {
		first, err := HashAPIKey("veriflow_ak_test")
		require.NoError(t, err)

		second, err := HashAPIKey("veriflow_ak_test")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})
}

func TestCompareAPIKeyHash(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)

	t.Run("matches original key", func(t *testing.T) {
		assert.True(t, CompareAPIKeyHash(hash, key))
	})

	t.Run("rejects other key", func(t *testing.T) {
		other, err := GenerateAPIKey()
		require.NoError(t, err)

		assert.False(t, CompareAPIKeyHash(hash, other))
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		assert.False(t, CompareAPIKeyHash("", key))
		assert.False(t, CompareAPIKeyHash(hash, ""))
	})
}

func TestHashAPIKey_LongKeys(t *testing.T) {
	// Keys past bcrypt's 72-byte limit are pre-hashed with SHA-256, so the
	// whole key still participates in the comparison.
	long := keyPrefix + strings.Repeat("a", 100)
	longVariant := keyPrefix + strings.Repeat("a", 99) + "b"

	hash, err := HashAPIKey(long)
	require.NoError(t, err)

	assert.True(t, CompareAPIKeyHash(hash, long))
	assert.False(t, CompareAPIKeyHash(hash, longVariant))
}
