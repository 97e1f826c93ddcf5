package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// LedgerStore implements domain.LedgerStore in memory. Writes are staged in
// the transaction and applied in one step at commit, so concurrent readers
// never observe a half-applied transaction.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a LedgerStore over db.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// InTx runs fn in a transaction. Item locks taken by fn are held until the
// transaction commits or rolls back.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx := &ledgerTx{
		db:      s.db,
		held:    make(map[string]chan struct{}),
		status:  make(map[string]domain.ItemStatus),
		upserts: make(map[string]domain.Bid),
		deleted: make(map[string]bool),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	tx.commit()
	return nil
}

type ledgerTx struct {
	db       *DB
	held     map[string]chan struct{}
	status   map[string]domain.ItemStatus
	upserts  map[string]domain.Bid
	inserted []string
	deleted  map[string]bool
}

var errNotLocked = errors.New("memory: item not locked by transaction")

func (tx *ledgerTx) requireLock(itemID string) error {
	if _, ok := tx.held[itemID]; !ok {
		return fmt.Errorf("%w: %s", errNotLocked, itemID)
	}
	return nil
}

func (tx *ledgerTx) releaseAll() {
	for id, ch := range tx.held {
		release(ch)
		delete(tx.held, id)
	}
}

// LockItem blocks until the item lock is free, then returns the item as
// this transaction sees it.
func (tx *ledgerTx) LockItem(ctx context.Context, itemID string) (domain.AuctionItem, error) {
	if _, ok := tx.held[itemID]; !ok {
		ch := tx.db.itemLock(itemID)
		if err := acquire(ctx, ch); err != nil {
			return domain.AuctionItem{}, fmt.Errorf("memory: lock item %s: %w", itemID, err)
		}
		tx.held[itemID] = ch
	}

	tx.db.mu.RLock()
	item, ok := tx.db.items[itemID]
	tx.db.mu.RUnlock()
	if !ok {
		return domain.AuctionItem{}, fmt.Errorf("memory: lock item %s: %w", itemID, domain.ErrNotFound)
	}
	if st, ok := tx.status[itemID]; ok {
		item.StoredStatus = st
	}
	return item, nil
}

func (tx *ledgerTx) SetItemStatus(_ context.Context, itemID string, status domain.ItemStatus) error {
	if err := tx.requireLock(itemID); err != nil {
		return err
	}
	tx.status[itemID] = status
	return nil
}

// view merges committed bids on the item with this transaction's staged
// writes, preserving insertion order.
func (tx *ledgerTx) view(itemID string) []domain.Bid {
	tx.db.mu.RLock()
	committed := tx.db.bidsForItemLocked(itemID)
	tx.db.mu.RUnlock()

	out := make([]domain.Bid, 0, len(committed)+len(tx.inserted))
	for _, b := range committed {
		if tx.deleted[b.ID] {
			continue
		}
		if staged, ok := tx.upserts[b.ID]; ok {
			b = staged
		}
		out = append(out, b)
	}
	for _, id := range tx.inserted {
		b := tx.upserts[id]
		if b.ItemID == itemID && !tx.deleted[id] {
			out = append(out, b)
		}
	}
	return out
}

func (tx *ledgerTx) HighestValidBid(_ context.Context, itemID string) (domain.Bid, bool, error) {
	if err := tx.requireLock(itemID); err != nil {
		return domain.Bid{}, false, err
	}
	b, ok := highestValid(tx.view(itemID), "")
	return b, ok, nil
}

func (tx *ledgerTx) InsertBid(_ context.Context, bid domain.Bid) error {
	if err := tx.requireLock(bid.ItemID); err != nil {
		return err
	}
	if _, err := tx.lookup(bid.ID); err == nil {
		return fmt.Errorf("memory: insert bid %s: duplicate id", bid.ID)
	}
	if bid.IsWinning {
		for _, b := range tx.view(bid.ItemID) {
			if b.IsWinning {
				return fmt.Errorf("memory: insert bid %s: item %s already has winning bid %s", bid.ID, bid.ItemID, b.ID)
			}
		}
	}
	tx.upserts[bid.ID] = bid
	tx.inserted = append(tx.inserted, bid.ID)
	return nil
}

func (tx *ledgerTx) ClearWinning(_ context.Context, itemID, exceptBidID string) error {
	if err := tx.requireLock(itemID); err != nil {
		return err
	}
	for _, b := range tx.view(itemID) {
		if b.IsWinning && b.ID != exceptBidID {
			b.IsWinning = false
			tx.upserts[b.ID] = b
		}
	}
	return nil
}

func (tx *ledgerTx) lookup(bidID string) (domain.Bid, error) {
	if tx.deleted[bidID] {
		return domain.Bid{}, fmt.Errorf("memory: get bid %s: %w", bidID, domain.ErrNotFound)
	}
	if b, ok := tx.upserts[bidID]; ok {
		return b, nil
	}
	tx.db.mu.RLock()
	b, ok := tx.db.bids[bidID]
	tx.db.mu.RUnlock()
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: get bid %s: %w", bidID, domain.ErrNotFound)
	}
	return b, nil
}

func (tx *ledgerTx) GetBid(_ context.Context, bidID string) (domain.Bid, error) {
	return tx.lookup(bidID)
}

func (tx *ledgerTx) DeleteBid(_ context.Context, bidID string) error {
	b, err := tx.lookup(bidID)
	if err != nil {
		return err
	}
	if err := tx.requireLock(b.ItemID); err != nil {
		return err
	}
	tx.deleted[bidID] = true
	return nil
}

func (tx *ledgerTx) SetWinning(_ context.Context, bidID string) error {
	b, err := tx.lookup(bidID)
	if err != nil {
		return err
	}
	if err := tx.requireLock(b.ItemID); err != nil {
		return err
	}
	for _, other := range tx.view(b.ItemID) {
		if other.IsWinning && other.ID != bidID {
			return fmt.Errorf("memory: set winning %s: item %s already has winning bid %s", bidID, b.ItemID, other.ID)
		}
	}
	b.IsWinning = true
	tx.upserts[bidID] = b
	return nil
}

func (tx *ledgerTx) commit() {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	for id, st := range tx.status {
		if item, ok := db.items[id]; ok {
			item.StoredStatus = st
			item.UpdatedAt = now
			db.items[id] = item
		}
	}
	for _, id := range tx.inserted {
		db.bidSeq++
		db.bidOrder[id] = db.bidSeq
	}
	for id, b := range tx.upserts {
		if _, ok := db.bidOrder[id]; !ok {
			continue
		}
		if _, ok := db.items[b.ItemID]; !ok {
			delete(db.bidOrder, id)
			continue
		}
		db.bids[id] = b
	}
	for id := range tx.deleted {
		delete(db.bids, id)
		delete(db.bidOrder, id)
	}
}
