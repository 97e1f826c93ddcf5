// Package fanout tells bidders they were outbid. Each committed bid is
// resolved to the displaced bidder (if any) and handed to independent
// delivery channels; a failing channel never affects the others or the bid.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// Delivery is what a channel receives for one committed bid. Outbid is nil
// when nobody was displaced.
type Delivery struct {
	Event  domain.BidPlaced
	Outbid *domain.OutbidNotice
}

// Channel is one delivery medium.
type Channel interface {
	Deliver(ctx context.Context, d Delivery) error
	// Name identifies the channel in logs (e.g. "push").
	Name() string
}

// Dispatcher resolves outbid parties and dispatches to channels. Immediate
// channels run inline after commit; deferred channels are queued to the
// background worker pool by the function Dispatch returns.
type Dispatcher struct {
	bids      domain.BidStore
	immediate []Channel
	deferred  []Channel
	queue     *Queue
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. queue may be nil when there are no
// deferred channels.
func NewDispatcher(bids domain.BidStore, immediate, deferred []Channel, queue *Queue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bids:      bids,
		immediate: immediate,
		deferred:  deferred,
		queue:     queue,
		logger:    logger.With(slog.String("component", "fanout")),
	}
}

// Resolve finds the bidder displaced by evt: the holder of the highest other
// valid bid on the item. A bidder raising their own winning bid is not
// outbid.
func (d *Dispatcher) Resolve(ctx context.Context, evt domain.BidPlaced) (Delivery, error) {
	out := Delivery{Event: evt}
	prev, err := d.bids.HighestValidExcluding(ctx, evt.ItemID, evt.BidID)
	if errors.Is(err, domain.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("fanout: resolve outbid on %s: %w", evt.ItemID, err)
	}
	if prev.BidderID == evt.BidderID {
		return out, nil
	}
	out.Outbid = &domain.OutbidNotice{
		ItemID:         evt.ItemID,
		Title:          evt.ItemTitle,
		OutbidBidderID: prev.BidderID,
		NewBidID:       evt.BidID,
		OccurredAt:     evt.PlacedAt,
	}
	return out, nil
}

// Dispatch runs the immediate channels and returns a function that hands
// the deferred channels to the worker queue. Callers invoke it once the
// bidder's response has been written. Errors are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, evt domain.BidPlaced) func() {
	delivery, err := d.Resolve(ctx, evt)
	if err != nil {
		// Public channels still get the bid; only the outbid notice is lost.
		d.logger.WarnContext(ctx, "outbid resolution failed",
			slog.String("item_id", evt.ItemID),
			slog.String("error", err.Error()),
		)
	}

	d.run(ctx, d.immediate, delivery)

	if len(d.deferred) == 0 || d.queue == nil {
		return func() {}
	}
	return func() {
		ok := d.queue.Enqueue(func(ctx context.Context) {
			d.run(ctx, d.deferred, delivery)
		})
		if !ok {
			d.logger.Warn("deferred delivery dropped, queue full",
				slog.String("item_id", evt.ItemID),
				slog.String("bid_id", evt.BidID),
			)
		}
	}
}

// run delivers to each channel in turn. A failing channel does not stop the
// rest.
func (d *Dispatcher) run(ctx context.Context, channels []Channel, delivery Delivery) {
	for _, ch := range channels {
		if err := ch.Deliver(ctx, delivery); err != nil {
			err = fmt.Errorf("%w: %s: %w", domain.ErrNotificationDelivery, ch.Name(), err)
			d.logger.WarnContext(ctx, "channel delivery failed",
				slog.String("channel", ch.Name()),
				slog.String("item_id", delivery.Event.ItemID),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.logger.DebugContext(ctx, "channel delivered",
			slog.String("channel", ch.Name()),
			slog.String("item_id", delivery.Event.ItemID),
			slog.Bool("outbid", delivery.Outbid != nil),
		)
	}
}
