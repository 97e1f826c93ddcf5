package service

import (
	"context"
	"fmt"
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
	"github.com/alanyoungcy/silentauction/internal/ledger"
	"github.com/alanyoungcy/silentauction/internal/store/memory"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ptr(t time.Time) *time.Time { return &t }

type fakeDispatcher struct {
	mu       sync.Mutex
	events   []domain.BidPlaced
	deferred int
	ctxErr   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, evt domain.BidPlaced) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
	d.ctxErr = ctx.Err()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.deferred++
	}
}

type env struct {
	db    *memory.DB
	items *memory.ItemStore
	bids  *memory.BidStore
	clock *clock.Fake
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := memory.NewDB()
	e := &env{db: db, items: memory.NewItemStore(db), bids: memory.NewBidStore(db), clock: clock.NewFake(t0)}
	require.NoError(t, e.items.Upsert(context.Background(), domain.AuctionItem{
		ID: "lot", Title: "Quilt", StoredStatus: domain.ItemStatusActive,
		AuctionStart: ptr(t0.Add(-time.Hour)), AuctionEnd: ptr(t0.Add(time.Hour)),
		StartingBid: decimal.NewFromInt(10),
	}))
	return e
}

func (e *env) bidService(d Dispatcher) *BidService {
	l := ledger.New(memory.NewLedgerStore(e.db), memory.NewAuditStore(e.db), e.clock, discard())
	return NewBidService(l, d, time.Second, discard())
}

func TestBidService_DispatchesAcceptedOnly(t *testing.T) {
	e := newEnv(t)
	d := &fakeDispatcher{}
	svc := e.bidService(d)
	ctx := context.Background()

	res, after, err := svc.PlaceBid(ctx, ledger.PlaceBidRequest{ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonBidTooLow, res.Reason)
	require.NotNil(t, after)
	after()
	assert.Empty(t, d.events)

	res, after, err = svc.PlaceBid(ctx, ledger.PlaceBidRequest{ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.Len(t, d.events, 1)
	assert.Equal(t, res.BidID, d.events[0].BidID)
	assert.Zero(t, d.deferred, "deferred work waits for the caller")
	after()
	assert.Equal(t, 1, d.deferred)
}

func TestBidService_NotificationsSurviveCancelledRequest(t *testing.T) {
	e := newEnv(t)
	d := &fakeDispatcher{}
	svc := e.bidService(d)

	ctx, cancel := context.WithCancel(context.Background())
	res, _, err := svc.PlaceBid(ctx, ledger.PlaceBidRequest{ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(10)})
	cancel()
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.NoError(t, d.ctxErr)
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]map[string]domain.ItemPollStatus
	gets int
}

func cacheKey(bidder string, ids []string) string {
	k := bidder
	for _, id := range ids {
		k += "|" + id
	}
	return k
}

func (c *fakeCache) Get(_ context.Context, bidder string, ids []string) (map[string]domain.ItemPollStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[cacheKey(bidder, ids)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, bidder string, ids []string, st map[string]domain.ItemPollStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]map[string]domain.ItemPollStatus)
	}
	c.data[cacheKey(bidder, ids)] = st
	return nil
}

func TestStatusService_PollStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.items.Upsert(ctx, domain.AuctionItem{
		ID: "soon", StoredStatus: domain.ItemStatusActive, AuctionStart: ptr(t0.Add(time.Hour)),
	}))
	_, _, err := e.bidService(nil).PlaceBid(ctx, ledger.PlaceBidRequest{ItemID: "lot", BidderID: "alice", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	cache := &fakeCache{}
	svc := NewStatusService(e.items, e.bids, cache, nil, e.clock, discard())

	got, err := svc.PollStatus(ctx, "alice", []string{"soon", "lot", "missing", "lot"})
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.ItemPollStatus{
		"lot":  {IsWinning: true, HasBids: true, EffectiveStatus: domain.EffectiveActive, HasBid: true},
		"soon": {EffectiveStatus: domain.EffectiveDraft},
	}, got)

	bob, err := svc.PollStatus(ctx, "bob", []string{"lot"})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPollStatus{HasBids: true, EffectiveStatus: domain.EffectiveActive}, bob["lot"])

	// Same set in a different order is served from cache.
	_, _, err = e.bidService(nil).PlaceBid(ctx, ledger.PlaceBidRequest{ItemID: "lot", BidderID: "bob", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	again, err := svc.PollStatus(ctx, "alice", []string{"missing", "lot", "soon"})
	require.NoError(t, err)
	assert.True(t, again["lot"].IsWinning, "cached answer may be stale")
}

// gatedItems blocks GetMany until gate closes or its context ends.
type gatedItems struct {
	domain.ItemStore
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedItems) GetMany(ctx context.Context, ids []string) ([]domain.AuctionItem, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.ItemStore.GetMany(ctx, ids)
}

func TestStatusService_CollapsedPollSurvivesFirstCallerLeaving(t *testing.T) {
	e := newEnv(t)
	items := &gatedItems{ItemStore: e.items, entered: make(chan struct{}), gate: make(chan struct{})}
	svc := NewStatusService(items, e.bids, nil, nil, e.clock, discard())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.PollStatus(firstCtx, "alice", []string{"lot"})
		first <- err
	}()
	<-items.entered

	type result struct {
		statuses map[string]domain.ItemPollStatus
		err      error
	}
	second := make(chan result, 1)
	go func() {
		st, err := svc.PollStatus(context.Background(), "alice", []string{"lot"})
		second <- result{st, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-first, context.Canceled, "the departing poller returns promptly")

	close(items.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, domain.EffectiveActive, got.statuses["lot"].EffectiveStatus)
}

func TestStatusService_RejectsOversizedPoll(t *testing.T) {
	e := newEnv(t)
	svc := NewStatusService(e.items, e.bids, nil, nil, e.clock, discard())
	ids := make([]string, MaxPollItems+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%d", i)
	}
	_, err := svc.PollStatus(context.Background(), "alice", ids)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalizeItemIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeItemIDs([]string{" c", "a", "", "b", "a"}))
	assert.Empty(t, NormalizeItemIDs(nil))
}

type sliceQueue struct{ events []domain.OutbidEvent }

func (q *sliceQueue) Append(_ context.Context, evt domain.OutbidEvent) error {
	q.events = append(q.events, evt)
	return nil
}

func (q *sliceQueue) Drain(context.Context, string) ([]domain.OutbidEvent, error) {
	out := q.events
	q.events = nil
	return out, nil
}

func TestStatusService_ConsumeOutbidEvents(t *testing.T) {
	e := newEnv(t)
	q := &sliceQueue{}
	svc := NewStatusService(e.items, e.bids, nil, q, e.clock, discard())
	ctx := context.Background()

	empty, err := svc.ConsumeOutbidEvents(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, q.Append(ctx, domain.OutbidEvent{BidderID: "alice", ItemID: "lot"}))
	got, err := svc.ConsumeOutbidEvents(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.ConsumeOutbidEvents(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushService_Register(t *testing.T) {
	subs := memory.NewPushSubscriptionStore(memory.NewDB())
	svc := NewPushService(subs, clock.NewFake(t0), discard())
	ctx := context.Background()
	keys := domain.PushKeys{P256dh: "pk", Auth: "auth"}

	assert.ErrorIs(t, svc.Register(ctx, "", "https://push.example/a", keys), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Register(ctx, "alice", "http://push.example/a", keys), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Register(ctx, "alice", "https://push.example/a", domain.PushKeys{}), domain.ErrInvalidInput)

	require.NoError(t, svc.Register(ctx, "alice", "https://push.example/a", keys))
	got, err := subs.ListByBidder(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, t0, got[0].CreatedAt)

	require.NoError(t, svc.Unregister(ctx, "https://push.example/a"))
	got, err = subs.ListByBidder(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

type recordingScheduler struct {
	saved   []domain.AuctionItem
	deleted []string
}

func (s *recordingScheduler) OnItemSaved(item domain.AuctionItem) { s.saved = append(s.saved, item) }
func (s *recordingScheduler) OnItemDeleted(id string)             { s.deleted = append(s.deleted, id) }

func TestItemService_SaveAndDelete(t *testing.T) {
	e := newEnv(t)
	sched := &recordingScheduler{}
	svc := NewItemService(e.items, sched, memory.NewAuditStore(e.db), discard())
	ctx := context.Background()

	_, err := svc.Save(ctx, domain.AuctionItem{
		ID: "bad", StoredStatus: domain.ItemStatusDraft,
		AuctionStart: ptr(t0.Add(2 * time.Hour)), AuctionEnd: ptr(t0.Add(time.Hour)),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = svc.Save(ctx, domain.AuctionItem{ID: "bad", StoredStatus: "archived"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, sched.saved)

	saved, err := svc.Save(ctx, domain.AuctionItem{
		ID: "new", Title: "Print", StoredStatus: domain.ItemStatusDraft,
		AuctionStart: ptr(t0.Add(time.Hour)), StartingBid: decimal.RequireFromString("12.345"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12.35", saved.StartingBid.StringFixed(2))
	require.Len(t, sched.saved, 1)
	assert.Equal(t, "new", sched.saved[0].ID)

	require.NoError(t, svc.Delete(ctx, "new"))
	assert.Equal(t, []string{"new"}, sched.deleted)
	assert.ErrorIs(t, svc.Delete(ctx, "new"), domain.ErrNotFound)
}
