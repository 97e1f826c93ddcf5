package domain

import "time"

// OutbidEvent is the polling-fallback record telling a bidder that their
// winning bid was superseded.
type OutbidEvent struct {
	BidderID   string    `json:"bidderId"`
	ItemID     string    `json:"itemId"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PushKeys are the client-generated keys of a Web Push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a registered push endpoint owned by a bidder.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	BidderID  string    `json:"bidder_id"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

// OutbidNotice is what the fan-out hands to each delivery channel.
type OutbidNotice struct {
	ItemID         string
	Title          string
	OutbidBidderID string
	NewBidID       string
	OccurredAt     time.Time
}
