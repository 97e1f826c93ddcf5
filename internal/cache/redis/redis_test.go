package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "auction"), mr
}

func outbid(bidder, item string) domain.OutbidEvent {
	return domain.OutbidEvent{
		BidderID:   bidder,
		ItemID:     item,
		Title:      "Lot " + item,
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestClient_Key(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "auction:outbid:alice", c.Key("outbid", "alice"))
	assert.Equal(t, "outbid:alice", Wrap(nil, "").Key("outbid", "alice"))
}

func TestOutbidQueue_AppendAndDrain(t *testing.T) {
	c, mr := newTestClient(t)
	q := NewOutbidQueue(c, 0, 0)
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, outbid("alice", "a")))
	require.NoError(t, q.Append(ctx, outbid("alice", "b")))
	require.NoError(t, q.Append(ctx, outbid("bob", "a")))
	assert.Equal(t, DefaultOutbidQueueTTL, mr.TTL("auction:outbid:alice"))

	got, err := q.Drain(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ItemID)
	assert.Equal(t, "b", got[1].ItemID)

	got, err = q.Drain(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = q.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOutbidQueue_KeepsNewest(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewOutbidQueue(c, 3, time.Minute)
	ctx := context.Background()

	for _, item := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, q.Append(ctx, outbid("alice", item)))
	}
	got, err := q.Drain(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].ItemID)
	assert.Equal(t, "5", got[2].ItemID)
}

func TestOutbidQueue_Expires(t *testing.T) {
	c, mr := newTestClient(t)
	q := NewOutbidQueue(c, 0, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, outbid("alice", "a")))
	mr.FastForward(time.Minute + time.Second)

	got, err := q.Drain(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// Interleaved read-modify-write loses one of the two events. The queue is a
// best-effort fallback, so this is the documented behaviour.
func TestOutbidQueue_ConcurrentAppendMayLoseEvent(t *testing.T) {
	c, _ := newTestClient(t)
	q := NewOutbidQueue(c, 0, 0)
	ctx := context.Background()

	first, err := q.read(ctx, "alice")
	require.NoError(t, err)
	second, err := q.read(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, q.write(ctx, "alice", append(first, outbid("alice", "a"))))
	require.NoError(t, q.write(ctx, "alice", append(second, outbid("alice", "b"))))

	got, err := q.Drain(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ItemID)
}

func TestOutbidQueue_CorruptEntryIsReplaced(t *testing.T) {
	c, mr := newTestClient(t)
	q := NewOutbidQueue(c, 0, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set("auction:outbid:alice", "not json"))
	require.NoError(t, q.Append(ctx, outbid("alice", "a")))

	got, err := q.Drain(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStatusCache(t *testing.T) {
	c, mr := newTestClient(t)
	sc := NewStatusCache(c, 0)
	ctx := context.Background()
	ids := []string{"a", "b"}

	_, err := sc.Get(ctx, "alice", ids)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	want := map[string]domain.ItemPollStatus{
		"a": {IsWinning: true, HasBids: true, HasBid: true, EffectiveStatus: domain.EffectiveActive},
		"b": {EffectiveStatus: domain.EffectiveEnded},
	}
	require.NoError(t, sc.Set(ctx, "alice", ids, want))

	got, err := sc.Get(ctx, "alice", ids)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = sc.Get(ctx, "bob", ids)
	assert.ErrorIs(t, err, domain.ErrNotFound, "entries are per bidder")
	_, err = sc.Get(ctx, "alice", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrNotFound, "entries are per item set")

	mr.FastForward(DefaultStatusTTL)
	_, err = sc.Get(ctx, "alice", ids)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("auction:lock:sweep"))

	unlock2, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockManager_UnlockKeepsForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "sweep", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	defer other()

	unlock()
	assert.True(t, mr.Exists("auction:lock:sweep"))
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "ip:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "ip:5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Second)
	ok, err = rl.Allow(ctx, "ip:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the old requests")
}

func TestSignalBus(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exact, err := bus.Subscribe(ctx, "realtime")
	require.NoError(t, err)
	pattern, err := bus.Subscribe(ctx, "realtime*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "realtime", []byte("hello")))

	for _, ch := range []<-chan []byte{exact, pattern} {
		select {
		case msg := <-ch:
			assert.Equal(t, "hello", string(msg))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-exact
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
