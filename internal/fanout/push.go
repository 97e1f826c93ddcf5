package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// PushSender delivers one payload to one registered endpoint. It returns an
// error wrapping domain.ErrSubscriptionExpired when the provider reports the
// endpoint gone.
type PushSender interface {
	Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error
}

// PushPayload is the notification body shown on the bidder's device. It
// names the item but never an amount.
type PushPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	ItemID string `json:"itemId"`
	Tag    string `json:"tag"`
	URL    string `json:"url,omitempty"`
}

// NewPushPayload builds the outbid payload for a notice. itemURL may be
// empty.
func NewPushPayload(n domain.OutbidNotice, itemURL string) PushPayload {
	return PushPayload{
		Title:  "You've been outbid",
		Body:   fmt.Sprintf("Someone placed a higher bid on %q.", n.Title),
		ItemID: n.ItemID,
		Tag:    "outbid-" + n.ItemID,
		URL:    itemURL,
	}
}

// PushChannel sends outbid notices to every endpoint the displaced bidder
// registered, pruning endpoints the provider reports as expired.
type PushChannel struct {
	subs    domain.PushSubscriptionStore
	sender  PushSender
	itemURL func(itemID string) string
	logger  *slog.Logger
}

// NewPushChannel creates a PushChannel. itemURL may be nil.
func NewPushChannel(subs domain.PushSubscriptionStore, sender PushSender, itemURL func(string) string, logger *slog.Logger) *PushChannel {
	return &PushChannel{
		subs:    subs,
		sender:  sender,
		itemURL: itemURL,
		logger:  logger.With(slog.String("component", "push_channel")),
	}
}

// Name implements Channel.
func (c *PushChannel) Name() string { return "push" }

// Deliver implements Channel.
func (c *PushChannel) Deliver(ctx context.Context, d Delivery) error {
	if d.Outbid == nil {
		return nil
	}
	subs, err := c.subs.ListByBidder(ctx, d.Outbid.OutbidBidderID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	var url string
	if c.itemURL != nil {
		url = c.itemURL(d.Outbid.ItemID)
	}
	payload, err := json.Marshal(NewPushPayload(*d.Outbid, url))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		err := c.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSubscriptionExpired):
			if delErr := c.subs.Delete(ctx, sub.Endpoint); delErr != nil {
				errs = append(errs, fmt.Errorf("prune %s: %w", sub.Endpoint, delErr))
				continue
			}
			c.logger.InfoContext(ctx, "pruned expired push endpoint",
				slog.String("bidder_id", sub.BidderID),
				slog.String("endpoint", sub.Endpoint),
			)
		default:
			errs = append(errs, fmt.Errorf("send %s: %w", sub.Endpoint, err))
		}
	}
	return errors.Join(errs...)
}
