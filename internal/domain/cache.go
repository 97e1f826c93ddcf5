package domain

import (
	"context"
	"time"
)

// OutbidQueue is the per-bidder polling-fallback queue of outbid events.
type OutbidQueue interface {
	Append(ctx context.Context, evt OutbidEvent) error
	// Drain returns and clears the bidder's queued events.
	Drain(ctx context.Context, bidderID string) ([]OutbidEvent, error)
}

// StatusCache holds recent PollStatus answers keyed by bidder and item set.
type StatusCache interface {
	Get(ctx context.Context, bidderID string, itemIDs []string) (map[string]ItemPollStatus, error)
	Set(ctx context.Context, bidderID string, itemIDs []string, statuses map[string]ItemPollStatus) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
