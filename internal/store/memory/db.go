// Package memory is an in-process implementation of the auction stores. It
// backs the single-node deployment and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// DB holds the shared state behind every memory store. Readers and commits
// take mu; ledger transactions additionally serialize per item through locks.
type DB struct {
	mu       sync.RWMutex
	items    map[string]domain.AuctionItem
	bids     map[string]domain.Bid
	bidOrder map[string]int64
	bidSeq   int64
	subs     map[string]domain.PushSubscription
	audit    []domain.AuditEntry

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{
		items:    make(map[string]domain.AuctionItem),
		bids:     make(map[string]domain.Bid),
		bidOrder: make(map[string]int64),
		subs:     make(map[string]domain.PushSubscription),
		locks:    make(map[string]chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// itemLock returns the lock channel for an item, creating it on first use.
func (db *DB) itemLock(itemID string) chan struct{} {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	ch, ok := db.locks[itemID]
	if !ok {
		ch = make(chan struct{}, 1)
		db.locks[itemID] = ch
	}
	return ch
}

// lockItem takes the item's lock for a single write outside a ledger
// transaction, so admin edits and scheduler flips wait for an in-flight
// transaction the same way a row update waits on FOR UPDATE.
func (db *DB) lockItem(ctx context.Context, itemID string) (func(), error) {
	ch := db.itemLock(itemID)
	if err := acquire(ctx, ch); err != nil {
		return nil, err
	}
	return func() { release(ch) }, nil
}

func acquire(ctx context.Context, ch chan struct{}) error {
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(ch chan struct{}) {
	<-ch
}

// bidsForItemLocked returns the committed bids on an item in insertion
// order. Caller holds mu.
func (db *DB) bidsForItemLocked(itemID string) []domain.Bid {
	var out []domain.Bid
	for _, b := range db.bids {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.bidOrder[out[i].ID] < db.bidOrder[out[j].ID]
	})
	return out
}

// highestValid picks the highest valid bid from an insertion-ordered slice,
// skipping excludeID. Ties go to the earliest placement.
func highestValid(bids []domain.Bid, excludeID string) (domain.Bid, bool) {
	var best domain.Bid
	found := false
	for _, b := range bids {
		if b.ID == excludeID || b.Status != domain.BidStatusValid {
			continue
		}
		if !found || b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.PlacedAt.Before(best.PlacedAt)) {
			best = b
			found = true
		}
	}
	return best, found
}
