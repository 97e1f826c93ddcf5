package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var topics = Topics{Base: "https://auction.test"}

func newIssuer(t *testing.T, clk clock.Clock) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		PublisherKey:  []byte("publisher-secret-key-0123456789ab"),
		SubscriberKey: []byte("subscriber-secret-key-0123456789a"),
	}, topics, clk)
	require.NoError(t, err)
	return iss
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "https://auction.test/items/42", topics.Item("42"))
	assert.Equal(t, "https://auction.test/bidders/alice", topics.Bidder("alice"))
	assert.Equal(t, "https://auction.test/items/{id}", topics.ItemTemplate())
	assert.Equal(t, "items/42", Topics{}.Item("42"))
	assert.Equal(t, "https://a/items/1", Topics{Base: "https://a/"}.Item("1"))
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		selector string
		topic    string
		want     bool
	}{
		{"*", "https://auction.test/bidders/alice", true},
		{"https://auction.test/items/1", "https://auction.test/items/1", true},
		{"https://auction.test/items/1", "https://auction.test/items/2", false},
		{"https://auction.test/items/{id}", "https://auction.test/items/2", true},
		{"https://auction.test/items/{id}", "https://auction.test/items/2/bids", false},
		{"https://auction.test/items/{id}", "https://auction.test/items/", false},
		{"https://auction.test/items/{id}", "https://auction.test/bidders/alice", false},
		{"https://auction.test/{kind}/{id}", "https://auction.test/bidders/alice", true},
		{"a.b/{x}", "aXb/1", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.selector, tt.topic))
		})
	}
}

func TestIssuer_PublisherTokenIsSingleUse(t *testing.T) {
	iss := newIssuer(t, clock.NewFake(t0))

	parse := func(tok string) Claims {
		var c Claims
		_, err := jwt.ParseWithClaims(tok, &c,
			func(*jwt.Token) (any, error) { return iss.cfg.PublisherKey, nil },
			jwt.WithTimeFunc(func() time.Time { return t0 }),
		)
		require.NoError(t, err)
		return c
	}

	a, err := iss.PublisherToken()
	require.NoError(t, err)
	b, err := iss.PublisherToken()
	require.NoError(t, err)

	ca, cb := parse(a), parse(b)
	assert.Equal(t, []string{"*"}, ca.Mercure.Publish)
	assert.Empty(t, ca.Mercure.Subscribe)
	assert.NotEmpty(t, ca.ID)
	assert.NotEqual(t, ca.ID, cb.ID)
	assert.Equal(t, t0.Add(DefaultPublisherTTL), ca.ExpiresAt.Time.UTC())
}

func TestIssuer_SubscriberToken(t *testing.T) {
	clk := clock.NewFake(t0)
	iss := newIssuer(t, clk)

	tok, exp, err := iss.SubscriberToken("alice")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(DefaultSubscriberTTL), exp)

	grants, err := iss.VerifySubscriber(tok)
	require.NoError(t, err)
	assert.Equal(t, []string{topics.ItemTemplate(), topics.Bidder("alice")}, grants.Subscribe)

	anon, _, err := iss.SubscriberToken("")
	require.NoError(t, err)
	grants, err = iss.VerifySubscriber(anon)
	require.NoError(t, err)
	assert.Equal(t, []string{topics.ItemTemplate()}, grants.Subscribe)

	clk.Advance(DefaultSubscriberTTL + time.Second)
	_, err = iss.VerifySubscriber(tok)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestIssuer_RejectsPublisherTokenAsSubscriber(t *testing.T) {
	iss := newIssuer(t, clock.NewFake(t0))
	pub, err := iss.PublisherToken()
	require.NoError(t, err)

	_, err = iss.VerifySubscriber(pub)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = iss.VerifySubscriber("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestNewIssuer_RequiresKeys(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{PublisherKey: []byte("x")}, topics, clock.NewFake(t0))
	assert.Error(t, err)
}

func TestMercurePublisher(t *testing.T) {
	iss := newIssuer(t, clock.NewFake(t0))

	var (
		gotForm url.Values
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, "urn:uuid:1")
	}))
	defer srv.Close()

	pub := NewMercurePublisher(srv.URL, iss, srv.Client())
	err := pub.Publish(context.Background(), topics.Bidder("alice"),
		[]byte(`{"type":"outbid","itemId":"42","title":"Quilt"}`), true)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	var claims Claims
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), &claims,
		func(*jwt.Token) (any, error) { return iss.cfg.PublisherKey, nil },
		jwt.WithTimeFunc(func() time.Time { return t0 }),
	)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "mercure_private_form", []byte(gotForm.Encode()))

	require.NoError(t, pub.Publish(context.Background(), topics.Item("42"), []byte(`{}`), false))
	assert.Empty(t, gotForm.Get("private"))
}

func TestMercurePublisher_HubErrors(t *testing.T) {
	iss := newIssuer(t, clock.NewFake(t0))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hub overloaded", http.StatusServiceUnavailable)
	}))

	pub := NewMercurePublisher(srv.URL, iss, srv.Client())
	err := pub.Publish(context.Background(), topics.Item("1"), []byte(`{}`), false)
	assert.ErrorIs(t, err, domain.ErrHubUnavailable)
	assert.Contains(t, err.Error(), "503")

	srv.Close()
	err = pub.Publish(context.Background(), topics.Item("1"), []byte(`{}`), false)
	assert.ErrorIs(t, err, domain.ErrHubUnavailable)
}

// memBus is an in-process domain.SignalBus.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
	fail error
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]chan []byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func TestBusPublisher_WrapsBusFailure(t *testing.T) {
	bus := newMemBus()
	bus.fail = errors.New("connection refused")
	err := NewBusPublisher(bus, "").Publish(context.Background(), "t", []byte(`{}`), false)
	assert.ErrorIs(t, err, domain.ErrHubUnavailable)
}

type hubFixture struct {
	bus    *memBus
	issuer *Issuer
	wsURL  string
}

func startHub(t *testing.T) hubFixture {
	t.Helper()
	bus := newMemBus()
	iss := newIssuer(t, clock.NewFake(t0))
	hub := NewHub(bus, iss, HubConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return bus.subscribers(DefaultBusChannel) == 1 },
		time.Second, 5*time.Millisecond)
	return hubFixture{bus: bus, issuer: iss, wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f hubFixture) dial(t *testing.T, token string, topicSel ...string) *websocket.Conn {
	t.Helper()
	q := url.Values{}
	for _, s := range topicSel {
		q.Add("topic", s)
	}
	if token != "" {
		q.Set("token", token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL+"?"+q.Encode(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello struct {
		Type string `json:"type"`
	}
	readJSON(t, conn, &hello)
	require.Equal(t, "hub_status", hello.Type)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHub_RoutesPublicAndPrivateUpdates(t *testing.T) {
	f := startHub(t)
	tok, _, err := f.issuer.SubscriberToken("alice")
	require.NoError(t, err)

	alice := f.dial(t, tok, topics.ItemTemplate(), topics.Bidder("alice"))
	snoop := f.dial(t, "", topics.ItemTemplate(), topics.Bidder("alice"))

	pub := NewBusPublisher(f.bus, "")
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, topics.Bidder("alice"), []byte(`{"type":"outbid","itemId":"7","title":"Vase"}`), true))
	require.NoError(t, pub.Publish(ctx, topics.Item("7"), []byte(`{"type":"bid_update","itemId":"7","hasBids":true}`), false))

	var u Update
	readJSON(t, alice, &u)
	assert.Equal(t, topics.Bidder("alice"), u.Topic)
	assert.JSONEq(t, `{"type":"outbid","itemId":"7","title":"Vase"}`, string(u.Data))
	assert.False(t, u.Private)

	readJSON(t, alice, &u)
	assert.Equal(t, topics.Item("7"), u.Topic)

	// The unauthenticated client selected alice's topic but only ever sees
	// the public update.
	readJSON(t, snoop, &u)
	assert.Equal(t, topics.Item("7"), u.Topic)
}

func TestHub_SubscribeMessageChangesTopics(t *testing.T) {
	f := startHub(t)
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Topics: []string{topics.Item("9")}}))

	pub := NewBusPublisher(f.bus, "")
	// The subscribe frame is processed asynchronously; keep publishing until
	// one arrives.
	got := make(chan Update, 1)
	go func() {
		var u Update
		if conn.SetReadDeadline(time.Now().Add(2*time.Second)) != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err == nil && json.Unmarshal(data, &u) == nil {
			got <- u
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, pub.Publish(context.Background(), topics.Item("8"), []byte(`{}`), false))
		require.NoError(t, pub.Publish(context.Background(), topics.Item("9"), []byte(`{}`), false))
		select {
		case u := <-got:
			assert.Equal(t, topics.Item("9"), u.Topic)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no update after subscribing")
		}
	}
}

func TestHub_RejectsInvalidToken(t *testing.T) {
	f := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
