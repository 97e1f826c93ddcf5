package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// DefaultStatusTTL is how long a poll answer is reused.
const DefaultStatusTTL = 3 * time.Second

// StatusCache implements domain.StatusCache. Entries live at
// "pollstatus:{bidderID}:{hash of item set}" as JSON. Callers pass item ids
// already normalized (sorted, de-duplicated).
type StatusCache struct {
	c   *Client
	ttl time.Duration
}

// NewStatusCache creates a StatusCache. A zero ttl selects DefaultStatusTTL.
func NewStatusCache(c *Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{c: c, ttl: ttl}
}

func (sc *StatusCache) key(bidderID string, itemIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(itemIDs, "\x00")))
	return sc.c.Key("pollstatus", bidderID, hex.EncodeToString(sum[:12]))
}

// Get returns the cached answer or domain.ErrNotFound.
func (sc *StatusCache) Get(ctx context.Context, bidderID string, itemIDs []string) (map[string]domain.ItemPollStatus, error) {
	raw, err := sc.c.rdb.Get(ctx, sc.key(bidderID, itemIDs)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get poll status %s: %w", bidderID, err)
	}
	var out map[string]domain.ItemPollStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("redis: decode poll status %s: %w", bidderID, err)
	}
	return out, nil
}

// Set stores an answer for the cache TTL.
func (sc *StatusCache) Set(ctx context.Context, bidderID string, itemIDs []string, statuses map[string]domain.ItemPollStatus) error {
	raw, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("redis: encode poll status %s: %w", bidderID, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.key(bidderID, itemIDs), raw, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set poll status %s: %w", bidderID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatusCache = (*StatusCache)(nil)
