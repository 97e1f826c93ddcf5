package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus records whether a bid cleared the acceptance threshold.
type BidStatus string

const (
	BidStatusValid  BidStatus = "valid"
	BidStatusTooLow BidStatus = "too_low"
)

// Bid is one row of the append-only bid ledger. Only IsWinning is ever
// rewritten after insert.
type Bid struct {
	ID            string          `json:"id"`
	ItemID        string          `json:"item_id"`
	BidderID      string          `json:"bidder_id"`
	Amount        decimal.Decimal `json:"amount"`
	PlacedAt      time.Time       `json:"placed_at"`
	IsWinning     bool            `json:"is_winning"`
	Status        BidStatus       `json:"bid_status"`
	SourceAddress string          `json:"source_address,omitempty"`
}

// RejectReason is the user-visible reason a bid was not accepted.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonItemNotFound      RejectReason = "item_not_found"
	ReasonAuctionNotStarted RejectReason = "auction_not_started"
	ReasonAuctionEnded      RejectReason = "auction_ended"
	ReasonBidTooLow         RejectReason = "bid_too_low"
	ReasonInvalidSchedule   RejectReason = "invalid_schedule_data"
)

// Err returns the sentinel error matching the reason, or nil for ReasonNone.
func (r RejectReason) Err() error {
	switch r {
	case ReasonItemNotFound:
		return ErrItemNotFound
	case ReasonAuctionNotStarted:
		return ErrAuctionNotStarted
	case ReasonAuctionEnded:
		return ErrAuctionEnded
	case ReasonBidTooLow:
		return ErrBidTooLow
	case ReasonInvalidSchedule:
		return ErrInvalidSchedule
	}
	return nil
}

// PlaceBidResult is returned by the ledger for every placement attempt.
type PlaceBidResult struct {
	Accepted    bool            `json:"accepted"`
	Reason      RejectReason    `json:"reason,omitempty"`
	BidID       string          `json:"bid_id,omitempty"`
	CurrentHigh decimal.Decimal `json:"current_high"`
}

// BidPlaced is emitted once an accepted bid has been committed.
type BidPlaced struct {
	BidID     string          `json:"bid_id"`
	ItemID    string          `json:"item_id"`
	ItemTitle string          `json:"item_title"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
}

// BidSummary aggregates one bidder's standing on one item.
type BidSummary struct {
	ItemID    string
	HasBids   bool // any valid bid exists on the item
	HasBid    bool // the bidder has placed at least one bid on the item
	IsWinning bool // the bidder holds the winning bid
}

// ItemPollStatus is the per-item payload returned to polling clients. It
// never carries amounts.
type ItemPollStatus struct {
	IsWinning       bool            `json:"isWinning"`
	HasBids         bool            `json:"hasBids"`
	EffectiveStatus EffectiveStatus `json:"effectiveStatus"`
	HasBid          bool            `json:"hasBid"`
}
