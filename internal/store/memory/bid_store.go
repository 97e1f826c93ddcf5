package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// BidStore implements domain.BidStore in memory. Reads see committed data
// only.
type BidStore struct {
	db *DB
}

// NewBidStore creates a BidStore over db.
func NewBidStore(db *DB) *BidStore {
	return &BidStore{db: db}
}

// GetByID returns a single bid.
func (s *BidStore) GetByID(_ context.Context, id string) (domain.Bid, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	b, ok := s.db.bids[id]
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: get bid %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// ListByItem returns the item's bids in placement order.
func (s *BidStore) ListByItem(_ context.Context, itemID string) ([]domain.Bid, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.bidsForItemLocked(itemID), nil
}

// HighestValidExcluding returns the highest valid bid on the item other
// than excludeBidID, or domain.ErrNotFound.
func (s *BidStore) HighestValidExcluding(_ context.Context, itemID, excludeBidID string) (domain.Bid, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	b, ok := highestValid(s.db.bidsForItemLocked(itemID), excludeBidID)
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: highest bid on %s: %w", itemID, domain.ErrNotFound)
	}
	return b, nil
}

// Summaries reports the bidder's standing on each requested item. Items
// with no bids at all get a zero summary.
func (s *BidStore) Summaries(_ context.Context, bidderID string, itemIDs []string) (map[string]domain.BidSummary, error) {
	want := make(map[string]bool, len(itemIDs))
	out := make(map[string]domain.BidSummary, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
		out[id] = domain.BidSummary{ItemID: id}
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, b := range s.db.bids {
		if !want[b.ItemID] {
			continue
		}
		sum := out[b.ItemID]
		if b.Status == domain.BidStatusValid {
			sum.HasBids = true
		}
		if b.BidderID == bidderID {
			sum.HasBid = true
			if b.IsWinning {
				sum.IsWinning = true
			}
		}
		out[b.ItemID] = sum
	}
	return out, nil
}
