package fanout

import (
	"context"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// PollChannel appends outbid events to the displaced bidder's polling
// fallback queue.
type PollChannel struct {
	queue domain.OutbidQueue
}

// NewPollChannel creates a PollChannel.
func NewPollChannel(queue domain.OutbidQueue) *PollChannel {
	return &PollChannel{queue: queue}
}

// Name implements Channel.
func (c *PollChannel) Name() string { return "poll" }

// Deliver implements Channel.
func (c *PollChannel) Deliver(ctx context.Context, d Delivery) error {
	if d.Outbid == nil {
		return nil
	}
	return c.queue.Append(ctx, domain.OutbidEvent{
		BidderID:   d.Outbid.OutbidBidderID,
		ItemID:     d.Outbid.ItemID,
		Title:      d.Outbid.Title,
		OccurredAt: d.Outbid.OccurredAt,
	})
}
