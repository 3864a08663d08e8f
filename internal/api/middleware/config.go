// Package middleware provides HTTP middleware components for the Veriflow API.
package middleware

import (
	"time"

	"github.com/veriflow-io/veriflow/internal/config"
)

const (
	defaultGlobalRPS = 100
	defaultKeyRPS    = 50
	defaultUnAuthRPS = 10
)

// RateLimitConfig holds rate limiter configuration.
// Burst values of zero mean "2 x the corresponding rate".
type RateLimitConfig struct {
	GlobalRPS   int
	GlobalBurst int
	KeyRPS      int
	KeyBurst    int
	UnAuthRPS   int
	UnAuthBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

// LoadRateLimitConfig loads rate limiter configuration from environment
// variables with sensible defaults.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalRPS:       config.GetEnvInt("VERIFLOW_RATELIMIT_GLOBAL_RPS", defaultGlobalRPS),
		GlobalBurst:     config.GetEnvInt("VERIFLOW_RATELIMIT_GLOBAL_BURST", 0),
		KeyRPS:          config.GetEnvInt("VERIFLOW_RATELIMIT_KEY_RPS", defaultKeyRPS),
		KeyBurst:        config.GetEnvInt("VERIFLOW_RATELIMIT_KEY_BURST", 0),
		UnAuthRPS:       config.GetEnvInt("VERIFLOW_RATELIMIT_UNAUTH_RPS", defaultUnAuthRPS),
		UnAuthBurst:     config.GetEnvInt("VERIFLOW_RATELIMIT_UNAUTH_BURST", 0),
		CleanupInterval: config.GetEnvDuration("VERIFLOW_RATELIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("VERIFLOW_RATELIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
	}
}
