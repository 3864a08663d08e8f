package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow-io/veriflow/internal/model"
)

// ChannelStore persists notification channels.
type ChannelStore struct {
	conn *Connection
}

// NewChannelStore creates a notification channel store.
func NewChannelStore(conn *Connection) (*ChannelStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ChannelStore{conn: conn}, nil
}

// Create inserts a new channel.
func (s *ChannelStore) Create(ctx context.Context, channel *model.NotificationChannel) (*model.NotificationChannel, error) {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}

	if channel.ChannelType == "" {
		channel.ChannelType = "webhook"
	}

	now := time.Now().UTC()
	channel.CreatedAt = now
	channel.UpdatedAt = now

	configJSON, err := marshalJSON(channel.Config)
	if err != nil {
		return nil, err
	}

	eventsJSON, err := marshalJSON(channel.Events)
	if err != nil {
		return nil, err
	}

	var minSeverity any
	if channel.MinSeverity != nil {
		minSeverity = string(*channel.MinSeverity)
	}

	query := `
		INSERT INTO notification_channels (
			id, name, channel_type, config, events, min_severity, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.ExecContext(ctx, query,
		channel.ID, channel.Name, channel.ChannelType, configJSON, eventsJSON,
		minSeverity, channel.IsActive, channel.CreatedAt, channel.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "notification channel")
	}

	return channel, nil
}

// GetByID fetches a channel by ID.
func (s *ChannelStore) GetByID(ctx context.Context, id string) (*model.NotificationChannel, error) {
	rows, err := s.conn.QueryContext(ctx, channelSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, translateError(err, "notification channel")
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(err, "notification channel")
		}

		return nil, model.NotFoundf("notification channel %s", id)
	}

	return scanChannel(rows)
}

// List returns all channels; ListActive returns only active ones.
func (s *ChannelStore) List(ctx context.Context) ([]*model.NotificationChannel, error) {
	return s.queryMany(ctx, channelSelect+` ORDER BY created_at DESC`)
}

// ListActive returns active channels for dispatch.
func (s *ChannelStore) ListActive(ctx context.Context) ([]*model.NotificationChannel, error) {
	return s.queryMany(ctx, channelSelect+` WHERE is_active = TRUE ORDER BY created_at DESC`)
}

// Update replaces mutable channel fields.
func (s *ChannelStore) Update(ctx context.Context, channel *model.NotificationChannel) (*model.NotificationChannel, error) {
	channel.UpdatedAt = time.Now().UTC()

	configJSON, err := marshalJSON(channel.Config)
	if err != nil {
		return nil, err
	}

	eventsJSON, err := marshalJSON(channel.Events)
	if err != nil {
		return nil, err
	}

	var minSeverity any
	if channel.MinSeverity != nil {
		minSeverity = string(*channel.MinSeverity)
	}

	query := `
		UPDATE notification_channels SET
			name = $2, config = $3, events = $4, min_severity = $5, is_active = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query,
		channel.ID, channel.Name, configJSON, eventsJSON, minSeverity,
		channel.IsActive, channel.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "notification channel")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, translateError(err, "notification channel")
	}

	if affected == 0 {
		return nil, model.NotFoundf("notification channel %s", channel.ID)
	}

	return channel, nil
}

// Delete removes a channel.
func (s *ChannelStore) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM notification_channels WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "notification channel")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return translateError(err, "notification channel")
	}

	if affected == 0 {
		return model.NotFoundf("notification channel %s", id)
	}

	return nil
}

func (s *ChannelStore) queryMany(ctx context.Context, query string, args ...any) ([]*model.NotificationChannel, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "notification channels")
	}

	defer func() {
		_ = rows.Close()
	}()

	var channels []*model.NotificationChannel

	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}

		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError(err, "notification channels")
	}

	return channels, nil
}

const channelSelect = `
	SELECT id, name, channel_type, config, events, min_severity, is_active, created_at, updated_at
	FROM notification_channels
`

func scanChannel(row rowScanner) (*model.NotificationChannel, error) {
	var (
		channel     model.NotificationChannel
		configJSON  []byte
		eventsJSON  []byte
		minSeverity []byte
	)

	err := row.Scan(
		&channel.ID, &channel.Name, &channel.ChannelType, &configJSON, &eventsJSON,
		&minSeverity, &channel.IsActive, &channel.CreatedAt, &channel.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err, "notification channel")
	}

	if err := unmarshalJSON(configJSON, &channel.Config); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(eventsJSON, &channel.Events); err != nil {
		return nil, err
	}

	if len(minSeverity) > 0 {
		severity := model.ResultSeverity(minSeverity)
		channel.MinSeverity = &severity
	}

	return &channel, nil
}
