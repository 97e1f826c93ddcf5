// Package events relays committed bids to NATS JetStream so downstream
// consumers (reporting, archival) can follow the ledger without querying it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/silentauction/internal/fanout"
)

const (
	DefaultStream        = "BID_EVENTS"
	DefaultSubjectPrefix = "bid.events"
)

// Config describes the stream the relay publishes into.
type Config struct {
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
	Replicas      int
}

// Message is the JSON body published for each committed bid. Outbid names
// the displaced bidder when there was one.
type Message struct {
	BidID    string    `json:"bidId"`
	ItemID   string    `json:"itemId"`
	BidderID string    `json:"bidderId"`
	Amount   string    `json:"amount"`
	PlacedAt time.Time `json:"placedAt"`
	Outbid   string    `json:"outbidBidderId,omitempty"`
}

// streamPublisher is the part of jetstream.JetStream the relay uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay publishes each delivery to "<prefix>.<itemID>". It is a fan-out
// channel, so a NATS outage is logged and never affects the bid.
type Relay struct {
	js     streamPublisher
	prefix string
	logger *slog.Logger
}

// NewRelay binds a JetStream context to conn and ensures the stream exists.
func NewRelay(ctx context.Context, conn *nats.Conn, cfg Config, logger *slog.Logger) (*Relay, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("events: jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Committed auction bids",
		Subjects:    []string{cfg.SubjectPrefix + ".*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("events: ensure stream %s: %w", cfg.Stream, err)
	}

	return newRelay(js, cfg.SubjectPrefix, logger), nil
}

func newRelay(js streamPublisher, prefix string, logger *slog.Logger) *Relay {
	return &Relay{
		js:     js,
		prefix: prefix,
		logger: logger.With(slog.String("component", "nats_relay")),
	}
}

// Name implements fanout.Channel.
func (r *Relay) Name() string { return "nats" }

// Deliver implements fanout.Channel. The publish waits for the stream ack.
func (r *Relay) Deliver(ctx context.Context, d fanout.Delivery) error {
	data, err := json.Marshal(NewMessage(d))
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	subject := Subject(r.prefix, d.Event.ItemID)
	ack, err := r.js.Publish(ctx, subject, data, jetstream.WithMsgID(d.Event.BidID))
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	r.logger.DebugContext(ctx, "relayed bid",
		slog.String("subject", subject),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}

// NewMessage builds the relay body for a delivery.
func NewMessage(d fanout.Delivery) Message {
	m := Message{
		BidID:    d.Event.BidID,
		ItemID:   d.Event.ItemID,
		BidderID: d.Event.BidderID,
		Amount:   d.Event.Amount.StringFixed(2),
		PlacedAt: d.Event.PlacedAt.UTC(),
	}
	if d.Outbid != nil {
		m.Outbid = d.Outbid.OutbidBidderID
	}
	return m
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Subject returns the subject for an item's bid events. Characters NATS
// treats as separators or wildcards are replaced in the item token.
func Subject(prefix, itemID string) string {
	return prefix + "." + subjectToken.Replace(itemID)
}

var _ fanout.Channel = (*Relay)(nil)
