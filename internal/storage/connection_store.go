package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

// ConnectionStore persists registered data sources. Dialect configuration is
// sealed with the process-wide ConfigCipher before it touches the database.
type ConnectionStore struct {
	conn   *Connection
	cipher *ConfigCipher
}

// NewConnectionStore creates a connection store. The cipher may be nil only in
// deployments that never create connections (e.g. read-only tooling).
func NewConnectionStore(conn *Connection, cipher *ConfigCipher) (*ConnectionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ConnectionStore{conn: conn, cipher: cipher}, nil
}

// Create registers a new data source with its config sealed.
func (s *ConnectionStore) Create(
	ctx context.Context,
	name string,
	connType model.ConnectionType,
	cfg map[string]any,
) (*model.Connection, error) {
	if !connType.Valid() {
		return nil, model.Validationf("unsupported connection type %q", connType)
	}

	sealed, err := s.cipher.Seal(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	connection := &model.Connection{
		ID:              uuid.NewString(),
		Name:            name,
		Type:            connType,
		EncryptedConfig: sealed,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO connections (id, name, type, encrypted_config, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(ctx, query,
		connection.ID, connection.Name, string(connection.Type),
		connection.EncryptedConfig, connection.IsActive, connection.CreatedAt, connection.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "connection")
	}

	return connection, nil
}

// GetByID fetches a connection by ID, active or not.
func (s *ConnectionStore) GetByID(ctx context.Context, id string) (*model.Connection, error) {
	query := `
		SELECT id, name, type, encrypted_config, is_active, created_at, updated_at
		FROM connections
		WHERE id = $1
	`

	return s.scanOne(s.conn.QueryRowContext(ctx, query, id))
}

// List returns connections, optionally including soft-deleted ones.
func (s *ConnectionStore) List(ctx context.Context, includeInactive bool) ([]*model.Connection, error) {
	query := `
		SELECT id, name, type, encrypted_config, is_active, created_at, updated_at
		FROM connections
	`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, translateError(err, "connections")
	}

	defer func() {
		_ = rows.Close()
	}()

	var connections []*model.Connection

	for rows.Next() {
		connection, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}

		connections = append(connections, connection)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "connections")
	}

	return connections, nil
}

// Update replaces the name and, when cfg is non-nil, the sealed configuration.
func (s *ConnectionStore) Update(
	ctx context.Context,
	id, name string,
	cfg map[string]any,
) (*model.Connection, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sealed := existing.EncryptedConfig

	if cfg != nil {
		sealed, err = s.cipher.Seal(cfg)
		if err != nil {
			return nil, err
		}
	}

	if name == "" {
		name = existing.Name
	}

	query := `
		UPDATE connections
		SET name = $2, encrypted_config = $3, updated_at = $4
		WHERE id = $1
	`

	updatedAt := time.Now().UTC()

	if _, err := s.conn.ExecContext(ctx, query, id, name, sealed, updatedAt); err != nil {
		return nil, translateError(err, "connection")
	}

	existing.Name = name
	existing.EncryptedConfig = sealed
	existing.UpdatedAt = updatedAt

	return existing, nil
}

// SoftDelete marks a connection inactive. Checks referencing it are untouched;
// the connection row is never removed while referenced.
func (s *ConnectionStore) SoftDelete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE connections SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "connection")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "connection")
	}

	if affected == 0 {
		return model.NotFoundf("connection %s", id)
	}

	return nil
}

// Config opens the sealed configuration bag with connection_type re-injected.
func (s *ConnectionStore) Config(ctx context.Context, id string) (map[string]any, error) {
	connection, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.cipher.Open(connection.EncryptedConfig, string(connection.Type))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ConnectionStore) scanOne(row *sql.Row) (*model.Connection, error) {
	connection, err := s.scanRow(row)
	if err != nil {
		return nil, err
	}

	return connection, nil
}

func (s *ConnectionStore) scanRow(row rowScanner) (*model.Connection, error) {
	var (
		connection model.Connection
		connType   string
	)

	err := row.Scan(
		&connection.ID, &connection.Name, &connType, &connection.EncryptedConfig,
		&connection.IsActive, &connection.CreatedAt, &connection.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "connection")
	}

	connection.Type = model.ConnectionType(connType)

	return &connection, nil
}
