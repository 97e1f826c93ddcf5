package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the persisted (stored) status of an auction item.
type ItemStatus string

const (
	ItemStatusDraft    ItemStatus = "draft"
	ItemStatusActive   ItemStatus = "active"
	ItemStatusEnded    ItemStatus = "ended"
	ItemStatusPaused   ItemStatus = "paused"
	ItemStatusCanceled ItemStatus = "canceled"
)

// Valid reports whether s is one of the known stored statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusDraft, ItemStatusActive, ItemStatusEnded, ItemStatusPaused, ItemStatusCanceled:
		return true
	}
	return false
}

// EffectiveStatus is the status an item behaves as at a given instant. It is
// derived from the stored status and the auction window, never persisted.
type EffectiveStatus string

const (
	EffectiveDraft    EffectiveStatus = "draft"
	EffectiveActive   EffectiveStatus = "active"
	EffectiveEnded    EffectiveStatus = "ended"
	EffectivePaused   EffectiveStatus = "paused"
	EffectiveCanceled EffectiveStatus = "canceled"
	// EffectiveInvalid flags a start timestamp later than the end timestamp.
	EffectiveInvalid EffectiveStatus = "invalid"
)

// MoneyScale is the number of fractional digits kept for currency amounts.
const MoneyScale int32 = 2

// AuctionItem is a single lot in the silent auction.
type AuctionItem struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	StoredStatus ItemStatus      `json:"status"`
	AuctionStart *time.Time      `json:"auction_start,omitempty"`
	AuctionEnd   *time.Time      `json:"auction_end,omitempty"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	ArchivedAt   *time.Time      `json:"archived_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TransitionKind names the two scheduled lifecycle transitions.
type TransitionKind string

const (
	TransitionActivate TransitionKind = "activate"
	TransitionEnd      TransitionKind = "end"
)

// TransitionKey identifies a scheduled transition. At most one timer is live
// per key.
type TransitionKey struct {
	ItemID string
	Kind   TransitionKind
}

func (k TransitionKey) String() string {
	return k.ItemID + "/" + string(k.Kind)
}
