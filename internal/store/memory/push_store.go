package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// PushSubscriptionStore implements domain.PushSubscriptionStore in memory.
type PushSubscriptionStore struct {
	db *DB
}

// NewPushSubscriptionStore creates a PushSubscriptionStore over db.
func NewPushSubscriptionStore(db *DB) *PushSubscriptionStore {
	return &PushSubscriptionStore{db: db}
}

// Upsert registers the endpoint, replacing any previous owner and keys.
func (s *PushSubscriptionStore) Upsert(_ context.Context, sub domain.PushSubscription) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.db.now()
	}
	s.db.subs[sub.Endpoint] = sub
	return nil
}

// Delete removes the endpoint. Removing an unknown endpoint is not an error.
func (s *PushSubscriptionStore) Delete(_ context.Context, endpoint string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.subs, endpoint)
	return nil
}

// ListByBidder returns the bidder's endpoints, oldest first.
func (s *PushSubscriptionStore) ListByBidder(_ context.Context, bidderID string) ([]domain.PushSubscription, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.PushSubscription
	for _, sub := range s.db.subs {
		if sub.BidderID == bidderID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
