// Package storage provides the PostgreSQL persistence layer for Veriflow:
// connections, checks, jobs, schedules, incidents, notification channels and
// the time-series check_results store.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/veriflow-io/veriflow/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultCleanupInterval = 1 * time.Hour
	defaultResultRetention = 365 * 24 * time.Hour
	encryptionKeyHexLength = 64
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrInvalidEncryptionKey is returned when the encryption key is not 32
	// bytes of hex.
	ErrInvalidEncryptionKey = errors.New("encryption key must be 64 hex characters (32 bytes)")
)

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL      string
	encryptionKeyHex string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	CleanupInterval  time.Duration // check_results retention sweep interval
	ResultRetention  time.Duration // how long check_results rows are kept
}

// LoadConfig loads PostgreSQL configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:      config.GetEnvStr("DATABASE_URL", ""), // private, never logged raw
		encryptionKeyHex: config.GetEnvStr("VERIFLOW_ENCRYPTION_KEY", ""),
		MaxOpenConns:     config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:     config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:  config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:  config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		CleanupInterval:  config.GetEnvDuration("VERIFLOW_RESULT_CLEANUP_INTERVAL", defaultCleanupInterval),
		ResultRetention:  config.GetEnvDuration("VERIFLOW_RESULT_RETENTION", defaultResultRetention),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.encryptionKeyHex != "" && len(c.encryptionKeyHex) != encryptionKeyHexLength {
		return ErrInvalidEncryptionKey
	}

	return nil
}

// DatabaseURL exposes the raw URL for opening connections. Log the masked
// variant instead.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// EncryptionKeyHex exposes the hex-encoded symmetric key for the config cipher.
func (c *Config) EncryptionKeyHex() string {
	return c.encryptionKeyHex
}

// WithDatabaseURL returns a copy of c pointing at the given URL. Used by tests
// that provision throwaway databases.
func (c *Config) WithDatabaseURL(url string) *Config {
	clone := *c
	clone.databaseURL = url

	return &clone
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	return MaskURL(c.databaseURL)
}

// MaskURL masks the password portion of a URL-shaped connection string.
func MaskURL(url string) string {
	if url == "" {
		return ""
	}

	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	afterScheme := url[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return url
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return url
	}

	username := userInfo[:colonIndex]
	if userInfo[colonIndex+1:] == "" {
		return url
	}

	return url[:schemeEnd] + "://" + username + ":***" + afterScheme[lastAtIndex:]
}
