package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/veriflow-io/veriflow/internal/config"
)

// PersistentKeyStore implements APIKeyStore with a PostgreSQL backend. Keys
// are stored bcrypt-hashed; lookup scans active keys and compares hashes
// in-memory, which is acceptable for the expected key counts (<1000).
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a PostgreSQL-backed key store.
func NewPersistentKeyStore(conn *Connection) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Close releases the underlying connection.
func (s *PersistentKeyStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// HealthCheck verifies database reachability.
func (s *PersistentKeyStore) HealthCheck(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// FindByKey retrieves an API key by plaintext value using bcrypt comparison.
// Returns (nil, false) when the key is unknown, inactive or expired.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, name, created_at, expires_at, active
		FROM api_keys
		WHERE active = TRUE
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		s.logger.Error("failed to query api keys", slog.String("error", err.Error()))

		return nil, false
	}

	defer func() {
		_ = rows.Close()
	}()

	var found *APIKey

	for rows.Next() {
		var apiKey APIKey

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key, // key_hash, used only for comparison below
			&apiKey.Name,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(key)

			if apiKey.Usable() {
				found = &apiKey
			}

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("failed to iterate api keys", slog.String("error", err.Error()))

		return nil, false
	}

	return found, found != nil
}

// Add stores a new API key, hashing the plaintext with bcrypt first.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if existing, found := s.FindByKey(ctx, apiKey.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, name, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	createdAt := apiKey.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.conn.ExecContext(ctx, query,
		apiKey.ID, keyHash, apiKey.Name, createdAt, apiKey.ExpiresAt, apiKey.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	return nil
}

// Deactivate soft-deletes an API key by ID.
func (s *PersistentKeyStore) Deactivate(ctx context.Context, keyID string) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE, updated_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return ErrKeyNotFound
	}

	return nil
}
