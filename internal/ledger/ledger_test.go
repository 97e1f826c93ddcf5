package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db     *memory.DB
	items  *memory.ItemStore
	bids   *memory.BidStore
	audit  *memory.AuditStore
	clock  *clock.Fake
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	f := &fixture{
		db:    db,
		items: memory.NewItemStore(db),
		bids:  memory.NewBidStore(db),
		audit: memory.NewAuditStore(db),
		clock: clock.NewFake(t0),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger = New(memory.NewLedgerStore(db), f.audit, f.clock, logger)
	return f
}

func ptr(t time.Time) *time.Time { return &t }

func (f *fixture) addItem(t *testing.T, item domain.AuctionItem) {
	t.Helper()
	if item.Title == "" {
		item.Title = "Lot " + item.ID
	}
	require.NoError(t, f.items.Upsert(context.Background(), item))
}

func (f *fixture) activeItem(t *testing.T, id string, starting int64) {
	f.addItem(t, domain.AuctionItem{
		ID:           id,
		StoredStatus: domain.ItemStatusActive,
		AuctionStart: ptr(t0.Add(-time.Hour)),
		AuctionEnd:   ptr(t0.Add(time.Hour)),
		StartingBid:  decimal.NewFromInt(starting),
	})
}

func (f *fixture) place(t *testing.T, item, bidder string, amount int64) domain.PlaceBidResult {
	t.Helper()
	out, err := f.ledger.PlaceBid(context.Background(), PlaceBidRequest{
		ItemID:   item,
		BidderID: bidder,
		Amount:   decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return out.Result
}

func assertSingleWinner(t *testing.T, bids []domain.Bid) {
	t.Helper()
	winners := 0
	for _, b := range bids {
		if b.IsWinning {
			winners++
			assert.Equal(t, domain.BidStatusValid, b.Status, "winning bid %s must be valid", b.ID)
		}
	}
	assert.LessOrEqual(t, winners, 1)
}

func TestPlaceBid_FirstBidAtStartingPrice(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 100)

	out, err := f.ledger.PlaceBid(context.Background(), PlaceBidRequest{
		ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Accepted)
	assert.True(t, out.Result.CurrentHigh.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, out.Event)
	assert.Equal(t, "Lot lot", out.Event.ItemTitle)
	assert.Equal(t, out.Result.BidID, out.Event.BidID)

	bid, err := f.bids.GetByID(context.Background(), out.Result.BidID)
	require.NoError(t, err)
	assert.True(t, bid.IsWinning)
	assert.Equal(t, domain.BidStatusValid, bid.Status)
}

func TestPlaceBid_BelowStartingPriceIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 100)

	res := f.place(t, "lot", "alice", 99)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.ReasonBidTooLow, res.Reason)
	assert.True(t, res.CurrentHigh.IsZero())

	bid, err := f.bids.GetByID(context.Background(), res.BidID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusTooLow, bid.Status)
	assert.False(t, bid.IsWinning)
}

func TestPlaceBid_EqualBidTooLowThenHigherWins(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 100)
	ctx := context.Background()

	first := f.place(t, "lot", "alice", 100)
	require.True(t, first.Accepted)

	tie := f.place(t, "lot", "bob", 100)
	assert.False(t, tie.Accepted)
	assert.Equal(t, domain.ReasonBidTooLow, tie.Reason)
	assert.True(t, tie.CurrentHigh.Equal(decimal.NewFromInt(100)))
	tieBid, err := f.bids.GetByID(ctx, tie.BidID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusTooLow, tieBid.Status)

	higher := f.place(t, "lot", "carol", 101)
	assert.True(t, higher.Accepted)

	prev, err := f.bids.GetByID(ctx, first.BidID)
	require.NoError(t, err)
	assert.False(t, prev.IsWinning)

	all, err := f.bids.ListByItem(ctx, "lot")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assertSingleWinner(t, all)
}

func TestPlaceBid_ExpiredActiveItemIsCorrected(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, domain.AuctionItem{
		ID:           "lot",
		StoredStatus: domain.ItemStatusActive,
		AuctionStart: ptr(t0.Add(-2 * time.Hour)),
		AuctionEnd:   ptr(t0.Add(-time.Minute)),
		StartingBid:  decimal.NewFromInt(10),
	})

	res := f.place(t, "lot", "alice", 500)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.ReasonAuctionEnded, res.Reason)

	item, err := f.items.GetByID(context.Background(), "lot")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusEnded, item.StoredStatus)

	bids, err := f.bids.ListByItem(context.Background(), "lot")
	require.NoError(t, err)
	assert.Empty(t, bids)

	entries, err := f.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "item.status_corrected", entries[0].Event)
}

func TestPlaceBid_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		item   *domain.AuctionItem
		reason domain.RejectReason
	}{
		{
			name:   "missing item",
			reason: domain.ReasonItemNotFound,
		},
		{
			name: "upcoming",
			item: &domain.AuctionItem{
				ID: "lot", StoredStatus: domain.ItemStatusActive,
				AuctionStart: ptr(t0.Add(time.Hour)), AuctionEnd: ptr(t0.Add(2 * time.Hour)),
			},
			reason: domain.ReasonAuctionNotStarted,
		},
		{
			name:   "draft",
			item:   &domain.AuctionItem{ID: "lot", StoredStatus: domain.ItemStatusDraft},
			reason: domain.ReasonAuctionNotStarted,
		},
		{
			name:   "paused",
			item:   &domain.AuctionItem{ID: "lot", StoredStatus: domain.ItemStatusPaused},
			reason: domain.ReasonAuctionEnded,
		},
		{
			name:   "canceled",
			item:   &domain.AuctionItem{ID: "lot", StoredStatus: domain.ItemStatusCanceled},
			reason: domain.ReasonAuctionEnded,
		},
		{
			name: "inverted window",
			item: &domain.AuctionItem{
				ID: "lot", StoredStatus: domain.ItemStatusActive,
				AuctionStart: ptr(t0.Add(2 * time.Hour)), AuctionEnd: ptr(t0.Add(time.Hour)),
			},
			reason: domain.ReasonInvalidSchedule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.item != nil {
				f.addItem(t, *tt.item)
			}
			res := f.place(t, "lot", "alice", 50)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, res.BidID)

			if tt.item != nil {
				item, err := f.items.GetByID(context.Background(), "lot")
				require.NoError(t, err)
				assert.Equal(t, tt.item.StoredStatus, item.StoredStatus)
			}
		})
	}
}

func TestPlaceBid_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 1)
	for _, amount := range []int64{0, -5} {
		_, err := f.ledger.PlaceBid(context.Background(), PlaceBidRequest{
			ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(amount),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
}

func TestPlaceBid_SubCentAmountsAreRejected(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 100)
	f.activeItem(t, "free", 0)

	tests := []struct {
		item   string
		amount string
	}{
		{item: "lot", amount: "99.995"},
		{item: "lot", amount: "100.001"},
		{item: "free", amount: "0.001"},
		{item: "free", amount: "0.004"},
	}
	for _, tt := range tests {
		t.Run(tt.item+"/"+tt.amount, func(t *testing.T) {
			_, err := f.ledger.PlaceBid(context.Background(), PlaceBidRequest{
				ItemID: tt.item, BidderID: "alice", Amount: decimal.RequireFromString(tt.amount),
			})
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		})
	}

	for _, id := range []string{"lot", "free"} {
		bids, err := f.bids.ListByItem(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, bids, "rejected amounts are never recorded")
	}
}

func TestPlaceBid_CentAmounts(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "free", 0)

	bid := func(bidder, amount string) domain.PlaceBidResult {
		out, err := f.ledger.PlaceBid(context.Background(), PlaceBidRequest{
			ItemID: "free", BidderID: bidder, Amount: decimal.RequireFromString(amount),
		})
		require.NoError(t, err)
		return out.Result
	}

	first := bid("alice", "0.01")
	require.True(t, first.Accepted)

	tie := bid("bob", "0.010")
	assert.False(t, tie.Accepted, "an equal amount never takes over")
	assert.Equal(t, domain.ReasonBidTooLow, tie.Reason)

	higher := bid("bob", "0.02")
	assert.True(t, higher.Accepted)

	bids, err := f.bids.ListByItem(context.Background(), "free")
	require.NoError(t, err)
	assertSingleWinner(t, bids)
	for _, b := range bids {
		if b.IsWinning {
			assert.Equal(t, "bob", b.BidderID)
		}
	}
}

type failingStore struct{ err error }

func (s failingStore) InTx(_ context.Context, fn func(domain.LedgerTx) error) error {
	return s.err
}

func TestPlaceBid_DatastoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	l := New(failingStore{err: boom}, nil, clock.NewFake(t0), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := l.PlaceBid(context.Background(), PlaceBidRequest{
		ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, domain.ErrTransactionFailure)
	assert.ErrorIs(t, err, boom)
}

func TestPlaceBid_TimeAdvancesIntoEnd(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 10)
	require.True(t, f.place(t, "lot", "alice", 10).Accepted)

	f.clock.Advance(time.Hour)
	res := f.place(t, "lot", "bob", 20)
	assert.Equal(t, domain.ReasonAuctionEnded, res.Reason)
}

func TestDeleteBid_PromotesNextHighest(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 10)
	ctx := context.Background()

	low := f.place(t, "lot", "alice", 50)
	mid := f.place(t, "lot", "bob", 75)
	top := f.place(t, "lot", "carol", 90)
	require.True(t, low.Accepted && mid.Accepted && top.Accepted)

	out, err := f.ledger.DeleteBid(ctx, top.BidID)
	require.NoError(t, err)
	assert.True(t, out.WasWinning)
	assert.Equal(t, mid.BidID, out.PromotedBidID)

	promoted, err := f.bids.GetByID(ctx, mid.BidID)
	require.NoError(t, err)
	assert.True(t, promoted.IsWinning)

	all, err := f.bids.ListByItem(ctx, "lot")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assertSingleWinner(t, all)
}

func TestDeleteBid_SkipsTooLowWhenPromoting(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 10)
	ctx := context.Background()

	first := f.place(t, "lot", "alice", 20)
	low := f.place(t, "lot", "bob", 15)
	require.Equal(t, domain.ReasonBidTooLow, low.Reason)

	out, err := f.ledger.DeleteBid(ctx, first.BidID)
	require.NoError(t, err)
	assert.True(t, out.WasWinning)
	assert.Empty(t, out.PromotedBidID)

	remaining, err := f.bids.GetByID(ctx, low.BidID)
	require.NoError(t, err)
	assert.False(t, remaining.IsWinning)
}

func TestDeleteBid_NonWinningLeavesWinner(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 10)
	ctx := context.Background()

	first := f.place(t, "lot", "alice", 20)
	second := f.place(t, "lot", "bob", 30)

	out, err := f.ledger.DeleteBid(ctx, first.BidID)
	require.NoError(t, err)
	assert.False(t, out.WasWinning)

	winner, err := f.bids.GetByID(ctx, second.BidID)
	require.NoError(t, err)
	assert.True(t, winner.IsWinning)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bid.deleted", entries[0].Event)
}

func TestDeleteBid_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.DeleteBid(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrTransactionFailure)
}

func TestPlaceBid_ConcurrentBidsSerialize(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]domain.PlaceBidResult, 2)
	for i, amount := range []int64{120, 125} {
		wg.Add(1)
		go func(i int, amount int64) {
			defer wg.Done()
			out, err := f.ledger.PlaceBid(ctx, PlaceBidRequest{
				ItemID: "lot", BidderID: "bidder", Amount: decimal.NewFromInt(amount),
			})
			assert.NoError(t, err)
			results[i] = out.Result
		}(i, amount)
	}
	wg.Wait()

	assert.True(t, results[1].Accepted, "the higher bid is accepted in either order")
	all, err := f.bids.ListByItem(ctx, "lot")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assertSingleWinner(t, all)
	for _, b := range all {
		if b.IsWinning {
			assert.True(t, b.Amount.Equal(decimal.NewFromInt(125)))
		}
	}
}

func TestPlaceBid_NoReaderSeesTwoWinners(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "lot", 1)
	ctx := context.Background()

	stop := make(chan struct{})
	violations := make(chan int, 1)
	go func() {
		for {
			select {
			case <-stop:
				close(violations)
				return
			default:
			}
			all, _ := f.bids.ListByItem(ctx, "lot")
			n := 0
			for _, b := range all {
				if b.IsWinning {
					n++
				}
			}
			if n > 1 {
				violations <- n
				close(violations)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := f.ledger.PlaceBid(ctx, PlaceBidRequest{
				ItemID: "lot", BidderID: "bidder", Amount: decimal.NewFromInt(amount),
			})
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()
	close(stop)

	n, seen := <-violations
	assert.False(t, seen, "reader observed %d winners", n)

	all, err := f.bids.ListByItem(ctx, "lot")
	require.NoError(t, err)
	assertSingleWinner(t, all)
}

func TestPlaceBid_DifferentItemsDoNotContend(t *testing.T) {
	f := newFixture(t)
	f.activeItem(t, "a", 1)
	f.activeItem(t, "b", 1)
	ctx := context.Background()
	store := memory.NewLedgerStore(f.db)

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.InTx(ctx, func(tx domain.LedgerTx) error {
			_, _ = tx.LockItem(ctx, "a")
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, err := f.ledger.PlaceBid(ctx, PlaceBidRequest{ItemID: "b", BidderID: "x", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.True(t, out.Result.Accepted)
}
