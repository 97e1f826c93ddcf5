package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

const (
	DefaultOutbidQueueLen = 20
	DefaultOutbidQueueTTL = 30 * time.Minute
)

// OutbidQueue implements domain.OutbidQueue as one JSON array per bidder at
// "outbid:{bidderID}". Only the newest maxLen events are kept and the key
// expires ttl after the last append.
//
// Append is a plain GET then SET. Two concurrent appends for the same
// bidder can lose one event; this queue is the fallback behind push and
// realtime delivery, so the loss is tolerated rather than locked against.
type OutbidQueue struct {
	c      *Client
	maxLen int
	ttl    time.Duration
}

// NewOutbidQueue creates an OutbidQueue. Zero values select the defaults.
func NewOutbidQueue(c *Client, maxLen int, ttl time.Duration) *OutbidQueue {
	if maxLen <= 0 {
		maxLen = DefaultOutbidQueueLen
	}
	if ttl <= 0 {
		ttl = DefaultOutbidQueueTTL
	}
	return &OutbidQueue{c: c, maxLen: maxLen, ttl: ttl}
}

func (q *OutbidQueue) key(bidderID string) string {
	return q.c.Key("outbid", bidderID)
}

// Append adds evt to the bidder's queue.
func (q *OutbidQueue) Append(ctx context.Context, evt domain.OutbidEvent) error {
	events, err := q.read(ctx, evt.BidderID)
	if err != nil {
		return err
	}
	return q.write(ctx, evt.BidderID, append(events, evt))
}

func (q *OutbidQueue) read(ctx context.Context, bidderID string) ([]domain.OutbidEvent, error) {
	raw, err := q.c.rdb.Get(ctx, q.key(bidderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read outbid queue %s: %w", bidderID, err)
	}
	var events []domain.OutbidEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		// A corrupt entry is dropped rather than blocking future appends.
		return nil, nil
	}
	return events, nil
}

func (q *OutbidQueue) write(ctx context.Context, bidderID string, events []domain.OutbidEvent) error {
	if len(events) > q.maxLen {
		events = events[len(events)-q.maxLen:]
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("redis: encode outbid queue %s: %w", bidderID, err)
	}
	if err := q.c.rdb.Set(ctx, q.key(bidderID), raw, q.ttl).Err(); err != nil {
		return fmt.Errorf("redis: write outbid queue %s: %w", bidderID, err)
	}
	return nil
}

// Drain atomically reads and deletes the bidder's queue.
func (q *OutbidQueue) Drain(ctx context.Context, bidderID string) ([]domain.OutbidEvent, error) {
	raw, err := q.c.rdb.GetDel(ctx, q.key(bidderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: drain outbid queue %s: %w", bidderID, err)
	}
	var events []domain.OutbidEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("redis: decode outbid queue %s: %w", bidderID, err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.OutbidQueue = (*OutbidQueue)(nil)
