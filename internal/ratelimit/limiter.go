// Package ratelimit implements Discord rate limiting: per-route REST buckets
// driven by response headers, and the gateway's command and identify limits.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bucket represents a rate limit bucket for a specific Discord API route
type Bucket struct {
	Remaining int           // Requests remaining in current window
	Limit     int           // Total requests allowed per window
	ResetAt   time.Time     // When the rate limit resets
	limiter   *rate.Limiter // Token bucket rate limiter
	mu        sync.Mutex
}

// RateLimiter manages rate limits for Discord API routes
type RateLimiter struct {
	buckets map[string]*Bucket // route -> bucket
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*Bucket),
		logger:  logger.Named("ratelimit"),
	}
}

// getBucket retrieves or creates a bucket for a route
func (rl *RateLimiter) getBucket(endpoint string) *Bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[endpoint]; exists {
		return bucket
	}

	// Until the first response arrives assume the global limit of 50/s.
	bucket := &Bucket{
		Remaining: 50,
		Limit:     50,
		ResetAt:   time.Now().Add(1 * time.Second),
		limiter:   rate.NewLimiter(rate.Every(20*time.Millisecond), 50),
	}

	rl.buckets[endpoint] = bucket
	return bucket
}

// Wait blocks until a request to endpoint may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	var waitDuration time.Duration
	if bucket.Remaining <= 0 && time.Now().Before(bucket.ResetAt) {
		waitDuration = time.Until(bucket.ResetAt)
	}
	limiter := bucket.limiter
	bucket.mu.Unlock()

	if waitDuration > 0 {
		rl.logger.Warn("rate limit exhausted, waiting",
			zap.String("endpoint", endpoint),
			zap.Duration("wait_duration", waitDuration),
		)
		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	bucket.mu.Lock()
	if bucket.Remaining > 0 {
		bucket.Remaining--
	}
	bucket.mu.Unlock()
	return nil
}

// UpdateFromHeaders updates the route bucket from Discord API response headers
func (rl *RateLimiter) UpdateFromHeaders(endpoint string, headers http.Header) {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if val, err := strconv.Atoi(headers.Get("X-RateLimit-Remaining")); err == nil {
		bucket.Remaining = val
	}
	if val, err := strconv.Atoi(headers.Get("X-RateLimit-Limit")); err == nil {
		bucket.Limit = val
	}

	// Reset-After is relative and immune to clock skew, so it wins over Reset.
	if after, ok := parseSeconds(headers.Get("X-RateLimit-Reset-After")); ok {
		bucket.ResetAt = time.Now().Add(after)
	} else if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if t, err := time.Parse(time.RFC3339, reset); err == nil {
			bucket.ResetAt = t
		} else if secs, err := strconv.ParseFloat(reset, 64); err == nil {
			whole, frac := math.Modf(secs)
			bucket.ResetAt = time.Unix(int64(whole), int64(frac*1e9))
		}
	}

	if bucket.Limit > 0 {
		resetDuration := time.Until(bucket.ResetAt)
		if resetDuration > 0 {
			tokensPerSecond := float64(bucket.Limit) / resetDuration.Seconds()
			bucket.limiter = rate.NewLimiter(rate.Limit(tokensPerSecond), bucket.Limit)
		}
	}

	rl.logger.Debug("updated rate limit from headers",
		zap.String("endpoint", endpoint),
		zap.Int("remaining", bucket.Remaining),
		zap.Int("limit", bucket.Limit),
		zap.Time("reset_at", bucket.ResetAt),
	)
}

// HandleRateLimitResponse handles a 429 response and returns how long the
// caller should wait before retrying.
func (rl *RateLimiter) HandleRateLimitResponse(endpoint string, headers http.Header) time.Duration {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	retryAfter, _ := parseSeconds(headers.Get("Retry-After"))
	if retryAfter == 0 {
		retryAfter, _ = parseSeconds(headers.Get("X-RateLimit-Reset-After"))
	}

	// Default to 1 second if no timing information
	if retryAfter <= 0 {
		retryAfter = 1 * time.Second
	}

	bucket.Remaining = 0
	bucket.ResetAt = time.Now().Add(retryAfter)

	rl.logger.Warn("rate limited by Discord API",
		zap.String("endpoint", endpoint),
		zap.Duration("retry_after", retryAfter),
		zap.Bool("global", headers.Get("X-RateLimit-Global") == "true"),
	)

	return retryAfter
}

// GetStatus returns the current rate limit status for a route
func (rl *RateLimiter) GetStatus(endpoint string) (remaining int, limit int, resetAt time.Time) {
	bucket := rl.getBucket(endpoint)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	return bucket.Remaining, bucket.Limit, bucket.ResetAt
}

// Reset clears all rate limit buckets
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.buckets = make(map[string]*Bucket)
	rl.logger.Info("rate limiter reset")
}

func parseSeconds(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
