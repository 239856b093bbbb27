package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gateway limits. A connection may send 120 commands per 60 seconds; one
// identify per 5 seconds is allowed per concurrency bucket.
const (
	GatewayCommandLimit  = 120
	GatewayCommandWindow = 60 * time.Second
	IdentifyInterval     = 5 * time.Second
)

// CommandLimiter paces outbound gateway commands on a single connection.
// Heartbeats are not counted against it.
type CommandLimiter struct {
	limiter *rate.Limiter
}

// NewCommandLimiter returns a limiter allowing limit commands per window.
func NewCommandLimiter(limit int, window time.Duration) *CommandLimiter {
	return &CommandLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
	}
}

// NewGatewayCommandLimiter returns a limiter with Discord's gateway limit.
func NewGatewayCommandLimiter() *CommandLimiter {
	return NewCommandLimiter(GatewayCommandLimit, GatewayCommandWindow)
}

// Wait blocks until a command may be sent.
func (c *CommandLimiter) Wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("command limiter wait failed: %w", err)
	}
	return nil
}

// IdentifyLimiter is shared by every shard of a process. Shards land in
// bucket shardID % maxConcurrency; each bucket admits one identify per
// interval.
type IdentifyLimiter struct {
	buckets []*rate.Limiter
}

// NewIdentifyLimiter creates a limiter for the given max_concurrency.
func NewIdentifyLimiter(maxConcurrency int, interval time.Duration) *IdentifyLimiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	buckets := make([]*rate.Limiter, maxConcurrency)
	for i := range buckets {
		buckets[i] = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &IdentifyLimiter{buckets: buckets}
}

// Wait blocks until shardID may identify.
func (l *IdentifyLimiter) Wait(ctx context.Context, shardID int) error {
	if err := l.buckets[shardID%len(l.buckets)].Wait(ctx); err != nil {
		return fmt.Errorf("identify limiter wait failed: %w", err)
	}
	return nil
}

// MaxConcurrency returns the number of buckets.
func (l *IdentifyLimiter) MaxConcurrency() int {
	return len(l.buckets)
}
