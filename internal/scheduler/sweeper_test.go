package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/store/memory"
)

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func seedSweep(t *testing.T, items *memory.ItemStore) {
	t.Helper()
	ctx := context.Background()
	for _, item := range []domain.AuctionItem{
		// due to open
		{ID: "open", StoredStatus: domain.ItemStatusDraft, AuctionStart: ptr(t0.Add(-time.Minute)), AuctionEnd: ptr(t0.Add(time.Hour))},
		// still upcoming
		{ID: "soon", StoredStatus: domain.ItemStatusDraft, AuctionStart: ptr(t0.Add(time.Minute))},
		// unconfigured draft stays hidden
		{ID: "bare", StoredStatus: domain.ItemStatusDraft},
		// due to close
		{ID: "close", StoredStatus: domain.ItemStatusActive, AuctionEnd: ptr(t0.Add(-time.Second))},
		// running
		{ID: "live", StoredStatus: domain.ItemStatusActive, AuctionEnd: ptr(t0.Add(time.Hour))},
		// closed manually
		{ID: "held", StoredStatus: domain.ItemStatusPaused, AuctionEnd: ptr(t0.Add(-time.Hour))},
	} {
		require.NoError(t, items.Upsert(ctx, item))
	}
}

func TestSweep_PromotesMissedTransitions(t *testing.T) {
	db := memory.NewDB()
	items := memory.NewItemStore(db)
	seedSweep(t, items)
	s := NewSweeper(items, memory.NewAuditStore(db), &fakeLocks{}, clock.NewFake(t0), time.Minute, discard())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 5, Activated: 1, Ended: 1}, res)

	want := map[string]domain.ItemStatus{
		"open":  domain.ItemStatusActive,
		"soon":  domain.ItemStatusDraft,
		"bare":  domain.ItemStatusDraft,
		"close": domain.ItemStatusEnded,
		"live":  domain.ItemStatusActive,
		"held":  domain.ItemStatusPaused,
	}
	for id, status := range want {
		item, err := items.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, status, item.StoredStatus, id)
	}
}

func TestSweep_SecondRunIsNoOp(t *testing.T) {
	db := memory.NewDB()
	items := memory.NewItemStore(db)
	seedSweep(t, items)
	s := NewSweeper(items, nil, nil, clock.NewFake(t0), time.Minute, discard())

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Activated)
	assert.Zero(t, res.Ended)
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	db := memory.NewDB()
	items := memory.NewItemStore(db)
	seedSweep(t, items)
	locks := &fakeLocks{}
	unlock, err := locks.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	s := NewSweeper(items, nil, locks, clock.NewFake(t0), time.Minute, discard())
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	item, err := items.GetByID(context.Background(), "close")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusActive, item.StoredStatus)
}

func TestSweep_CoversMissedTimerAfterRestart(t *testing.T) {
	db := memory.NewDB()
	items := memory.NewItemStore(db)
	clk := clock.NewFake(t0)
	require.NoError(t, items.Upsert(context.Background(), domain.AuctionItem{
		ID: "lot", StoredStatus: domain.ItemStatusActive, AuctionEnd: ptr(t0.Add(time.Minute)),
	}))

	// No scheduler ever saw the item; time passes anyway.
	clk.Advance(2 * time.Minute)
	s := NewSweeper(items, nil, nil, clk, time.Minute, discard())
	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ended)
}
