// Package middleware provides HTTP middleware components for the Veriflow API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or a distributed store when scaling out. The interface enables swapping
	// the backend without touching the middleware.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// For authenticated requests, keyID identifies the API key.
		// For unauthenticated requests, keyID is the empty string.
		Allow(keyID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	//  1. Global limit (applied to all requests)
	//  2. Per-key limit (applied to authenticated requests)
	//  3. Unauthenticated limit (requests without a key identity)
	//
	// Uses token buckets with burst capacity of 2 x rate unless overridden.
	// A cleanup goroutine removes limiters idle longer than IdleTimeout so the
	// per-key map cannot grow without bound.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perKey          map[string]*keyLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		keyRPS          int
		keyBurst        int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
	}

	// keyLimiter tracks rate limit state for a single API key.
	keyLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates an in-memory rate limiter with three-tier
// limits from the given configuration.
func NewInMemoryRateLimiter(config *RateLimitConfig) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	keyBurst := computeBurstCapacity(config.KeyRPS, config.KeyBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perKey:          make(map[string]*keyLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		keyRPS:          config.KeyRPS,
		keyBurst:        keyBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns the burst override when set, otherwise 2 x rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
func (rl *InMemoryRateLimiter) Allow(keyID string) bool {
	// Tier 1: global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	// Tier 2: per-key or unauthenticated limit
	if keyID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	kl, ok := rl.perKey[keyID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring the write lock
		if kl, ok = rl.perKey[keyID]; !ok {
			kl = &keyLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.keyRPS), rl.keyBurst),
				lastAccess: time.Now(),
			}
			rl.perKey[keyID] = kl
		}
		rl.mu.Unlock()
	}

	kl.mu.Lock()
	kl.lastAccess = time.Now()
	kl.mu.Unlock()

	return kl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
//
// Close is not part of the RateLimiter interface; use type assertion to
// io.Closer when cleanup is needed.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

// startCleanup starts a background goroutine that periodically removes
// idle per-key limiters.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes key limiters that have not been used recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for keyID, kl := range rl.perKey {
		kl.mu.Lock()
		lastAccess := kl.lastAccess
		kl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perKey, keyID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests. When a request exceeds the limit, the middleware returns 429 with
// an RFC 7807 body.
//
// The middleware must be placed after the authentication middleware in the
// chain so that per-key limits can see the key identity.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := ""
			if keyCtx, ok := GetKeyContext(r.Context()); ok {
				keyID = keyCtx.KeyID
			}

			if !limiter.Allow(keyID) {
				requestID := GetRequestID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeProblem(w, r, http.StatusTooManyRequests, detail, requestID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("request_id", requestID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
