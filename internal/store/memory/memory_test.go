package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

func seed(t *testing.T, db *DB, id string) {
	t.Helper()
	require.NoError(t, NewItemStore(db).Upsert(context.Background(), domain.AuctionItem{
		ID:           id,
		Title:        "Lot " + id,
		StoredStatus: domain.ItemStatusActive,
		StartingBid:  decimal.NewFromInt(10),
	}))
}

func bid(id, item, bidder string, amount int64, winning bool) domain.Bid {
	return domain.Bid{
		ID:        id,
		ItemID:    item,
		BidderID:  bidder,
		Amount:    decimal.NewFromInt(amount),
		PlacedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IsWinning: winning,
		Status:    domain.BidStatusValid,
	}
}

func TestLedger_CommitIsVisible(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")

	err := NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.LockItem(ctx, "i1"); err != nil {
			return err
		}
		return tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, true))
	})
	require.NoError(t, err)

	got, err := NewBidStore(db).GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.IsWinning)
}

func TestLedger_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	boom := errors.New("boom")

	err := NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.LockItem(ctx, "i1"); err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, true)); err != nil {
			return err
		}
		if err := tx.SetItemStatus(ctx, "i1", domain.ItemStatusEnded); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = NewBidStore(db).GetByID(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	item, err := NewItemStore(db).GetByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusActive, item.StoredStatus)
}

func TestLedger_WriteWithoutLockFails(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")

	err := NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, false))
	})
	assert.ErrorIs(t, err, errNotLocked)
}

func TestLedger_SecondWinnerRejected(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	ledger := NewLedgerStore(db)

	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		return tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, true))
	}))

	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		return tx.InsertBid(ctx, bid("b2", "i1", "u2", 30, true))
	})
	assert.Error(t, err)

	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		if err := tx.ClearWinning(ctx, "i1", ""); err != nil {
			return err
		}
		return tx.InsertBid(ctx, bid("b2", "i1", "u2", 30, true))
	}))
	bids, err := NewBidStore(db).ListByItem(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.False(t, bids[0].IsWinning)
	assert.True(t, bids[1].IsWinning)
}

func TestLedger_LockSerializesTransactions(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	ledger := NewLedgerStore(db)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
				if _, err := tx.LockItem(ctx, "i1"); err != nil {
					return err
				}
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLedger_LockHonoursContext(t *testing.T) {
	db := NewDB()
	seed(t, db, "i1")
	ledger := NewLedgerStore(db)
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = ledger.InTx(context.Background(), func(tx domain.LedgerTx) error {
			_, _ = tx.LockItem(context.Background(), "i1")
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.LockItem(ctx, "i1")
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLedger_LockMissingItem(t *testing.T) {
	ctx := context.Background()
	err := NewLedgerStore(NewDB()).InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.LockItem(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestItemStore_WritesWaitForLedgerTransaction(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "lot")
	items := NewItemStore(db)

	locked := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
			if _, err := tx.LockItem(ctx, "lot"); err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.SetItemStatus(ctx, "lot", domain.ItemStatusEnded)
		})
	}()
	<-locked

	upserted := make(chan error, 1)
	go func() {
		upserted <- items.Upsert(ctx, domain.AuctionItem{
			ID: "lot", Title: "Lot lot", StoredStatus: domain.ItemStatusPaused, StartingBid: decimal.NewFromInt(10),
		})
	}()

	select {
	case <-upserted:
		t.Fatal("upsert completed while the item was locked")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-upserted)

	got, err := items.GetByID(ctx, "lot")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPaused, got.StoredStatus, "the later admin write is not overwritten")
}

func TestItemStore_WritesHonourContextWhileLocked(t *testing.T) {
	db := NewDB()
	seed(t, db, "lot")
	items := NewItemStore(db)

	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = NewLedgerStore(db).InTx(context.Background(), func(tx domain.LedgerTx) error {
			_, _ = tx.LockItem(context.Background(), "lot")
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := items.TransitionStatus(ctx, "lot", domain.ItemStatusActive, domain.ItemStatusEnded)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = items.Delete(ctx, "lot")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBidStore_HighestValidExcluding(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	early := bid("b1", "i1", "u1", 50, false)
	late := bid("b2", "i1", "u2", 50, true)
	late.PlacedAt = early.PlacedAt.Add(time.Second)
	low := bid("b3", "i1", "u3", 80, false)
	low.Status = domain.BidStatusTooLow

	require.NoError(t, NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		for _, b := range []domain.Bid{early, late, low} {
			if err := tx.InsertBid(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	bids := NewBidStore(db)
	got, err := bids.HighestValidExcluding(ctx, "i1", "")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)

	got, err = bids.HighestValidExcluding(ctx, "i1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "b2", got.ID)

	_, err = bids.HighestValidExcluding(ctx, "empty", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBidStore_Summaries(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	seed(t, db, "i2")
	low := bid("b2", "i2", "u1", 1, false)
	low.Status = domain.BidStatusTooLow

	require.NoError(t, NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		_, _ = tx.LockItem(ctx, "i2")
		if err := tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, true)); err != nil {
			return err
		}
		return tx.InsertBid(ctx, low)
	}))

	got, err := NewBidStore(db).Summaries(ctx, "u1", []string{"i1", "i2", "i3"})
	require.NoError(t, err)
	assert.Equal(t, domain.BidSummary{ItemID: "i1", HasBids: true, HasBid: true, IsWinning: true}, got["i1"])
	assert.Equal(t, domain.BidSummary{ItemID: "i2", HasBid: true}, got["i2"])
	assert.Equal(t, domain.BidSummary{ItemID: "i3"}, got["i3"])
}

func TestItemStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	require.NoError(t, NewLedgerStore(db).InTx(ctx, func(tx domain.LedgerTx) error {
		_, _ = tx.LockItem(ctx, "i1")
		return tx.InsertBid(ctx, bid("b1", "i1", "u1", 20, true))
	}))

	items := NewItemStore(db)
	require.NoError(t, items.Delete(ctx, "i1"))
	_, err := NewBidStore(db).GetByID(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, items.Delete(ctx, "i1"), domain.ErrNotFound)
}

func TestItemStore_TransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	seed(t, db, "i1")
	items := NewItemStore(db)

	changed, err := items.TransitionStatus(ctx, "i1", domain.ItemStatusDraft, domain.ItemStatusActive)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = items.TransitionStatus(ctx, "i1", domain.ItemStatusActive, domain.ItemStatusEnded)
	require.NoError(t, err)
	assert.True(t, changed)

	ended, err := items.ListUnarchived(ctx, domain.ItemStatusEnded, 10)
	require.NoError(t, err)
	require.Len(t, ended, 1)

	require.NoError(t, items.MarkArchived(ctx, "i1", time.Now()))
	ended, err = items.ListUnarchived(ctx, domain.ItemStatusEnded, 10)
	require.NoError(t, err)
	assert.Empty(t, ended)
}

func TestPushSubscriptionStore(t *testing.T) {
	ctx := context.Background()
	subs := NewPushSubscriptionStore(NewDB())
	require.NoError(t, subs.Upsert(ctx, domain.PushSubscription{Endpoint: "https://push/a", BidderID: "u1"}))
	require.NoError(t, subs.Upsert(ctx, domain.PushSubscription{Endpoint: "https://push/b", BidderID: "u2"}))
	require.NoError(t, subs.Upsert(ctx, domain.PushSubscription{Endpoint: "https://push/b", BidderID: "u1"}))

	got, err := subs.ListByBidder(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, subs.Delete(ctx, "https://push/a"))
	require.NoError(t, subs.Delete(ctx, "https://push/missing"))
	got, err = subs.ListByBidder(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://push/b", got[0].Endpoint)
}

func TestAuditStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditStore(NewDB())
	for _, ev := range []string{"a", "b", "c"} {
		require.NoError(t, audit.Log(ctx, ev, nil))
	}
	got, err := audit.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Event)
	assert.Equal(t, "b", got[1].Event)
}
