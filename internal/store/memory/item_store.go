package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// ItemStore implements domain.ItemStore in memory.
type ItemStore struct {
	db *DB
}

// NewItemStore creates an ItemStore over db.
func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// GetByID returns the item or domain.ErrNotFound.
func (s *ItemStore) GetByID(_ context.Context, id string) (domain.AuctionItem, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	item, ok := s.db.items[id]
	if !ok {
		return domain.AuctionItem{}, fmt.Errorf("memory: get item %s: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

// GetMany returns the items that exist among ids, in the order requested.
func (s *ItemStore) GetMany(_ context.Context, ids []string) ([]domain.AuctionItem, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]domain.AuctionItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.db.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Upsert inserts or replaces the item, keeping the original CreatedAt and
// ArchivedAt.
func (s *ItemStore) Upsert(ctx context.Context, item domain.AuctionItem) error {
	unlock, err := s.db.lockItem(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("memory: upsert item %s: %w", item.ID, err)
	}
	defer unlock()

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := s.db.now()
	if prev, ok := s.db.items[item.ID]; ok {
		item.CreatedAt = prev.CreatedAt
		item.ArchivedAt = prev.ArchivedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.db.items[item.ID] = item
	return nil
}

// Delete removes the item together with all of its bids.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	unlock, err := s.db.lockItem(ctx, id)
	if err != nil {
		return fmt.Errorf("memory: delete item %s: %w", id, err)
	}
	defer unlock()

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.items[id]; !ok {
		return fmt.Errorf("memory: delete item %s: %w", id, domain.ErrNotFound)
	}
	delete(s.db.items, id)
	for bidID, b := range s.db.bids {
		if b.ItemID == id {
			delete(s.db.bids, bidID)
			delete(s.db.bidOrder, bidID)
		}
	}
	return nil
}

// TransitionStatus moves the item from one stored status to another only
// when it is still in the expected one.
func (s *ItemStore) TransitionStatus(ctx context.Context, id string, from, to domain.ItemStatus) (bool, error) {
	unlock, err := s.db.lockItem(ctx, id)
	if err != nil {
		return false, fmt.Errorf("memory: transition item %s: %w", id, err)
	}
	defer unlock()

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	item, ok := s.db.items[id]
	if !ok || item.StoredStatus != from {
		return false, nil
	}
	item.StoredStatus = to
	item.UpdatedAt = s.db.now()
	s.db.items[id] = item
	return true, nil
}

// ListByStatus returns every item whose stored status is one of statuses,
// ordered by ID.
func (s *ItemStore) ListByStatus(_ context.Context, statuses ...domain.ItemStatus) ([]domain.AuctionItem, error) {
	want := make(map[domain.ItemStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.AuctionItem
	for _, item := range s.db.items {
		if want[item.StoredStatus] {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListUnarchived returns up to limit items in status that have not been
// archived yet, oldest update first.
func (s *ItemStore) ListUnarchived(_ context.Context, status domain.ItemStatus, limit int) ([]domain.AuctionItem, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []domain.AuctionItem
	for _, item := range s.db.items {
		if item.StoredStatus == status && item.ArchivedAt == nil {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkArchived records when the item's ledger was archived.
func (s *ItemStore) MarkArchived(_ context.Context, id string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	item, ok := s.db.items[id]
	if !ok {
		return fmt.Errorf("memory: mark archived %s: %w", id, domain.ErrNotFound)
	}
	item.ArchivedAt = &at
	s.db.items[id] = item
	return nil
}
