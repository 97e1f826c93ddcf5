package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Publisher posts an update to the pub/sub hub. Private updates reach only
// subscribers authorized for the topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, private bool) error
}

// TopicNamer maps items and bidders to hub topics.
type TopicNamer interface {
	Item(itemID string) string
	Bidder(bidderID string) string
}

// BidUpdate is the public gallery event. It never carries an amount.
type BidUpdate struct {
	Type    string `json:"type"`
	ItemID  string `json:"itemId"`
	HasBids bool   `json:"hasBids"`
}

// OutbidUpdate is the private event sent to the displaced bidder.
type OutbidUpdate struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
}

// RealtimeChannel publishes a public bid_update on the item topic and a
// private outbid event on the displaced bidder's topic.
type RealtimeChannel struct {
	pub    Publisher
	topics TopicNamer
}

// NewRealtimeChannel creates a RealtimeChannel.
func NewRealtimeChannel(pub Publisher, topics TopicNamer) *RealtimeChannel {
	return &RealtimeChannel{pub: pub, topics: topics}
}

// Name implements Channel.
func (c *RealtimeChannel) Name() string { return "realtime" }

// Deliver implements Channel. Both publishes are attempted even if the
// first fails.
func (c *RealtimeChannel) Deliver(ctx context.Context, d Delivery) error {
	var errs []error

	public, err := json.Marshal(BidUpdate{Type: "bid_update", ItemID: d.Event.ItemID, HasBids: true})
	if err == nil {
		err = c.pub.Publish(ctx, c.topics.Item(d.Event.ItemID), public, false)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("public update: %w", err))
	}

	if d.Outbid != nil {
		private, err := json.Marshal(OutbidUpdate{Type: "outbid", ItemID: d.Outbid.ItemID, Title: d.Outbid.Title})
		if err == nil {
			err = c.pub.Publish(ctx, c.topics.Bidder(d.Outbid.OutbidBidderID), private, true)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("private update: %w", err))
		}
	}
	return errors.Join(errs...)
}
