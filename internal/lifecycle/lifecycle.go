// Package lifecycle derives the effective status of an auction item from its
// stored status and auction window. ComputeStatus is the only place that
// logic lives; the ledger, scheduler, sweeper and status poller all call it.
package lifecycle

import (
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// ComputeStatus returns the effective status of an item. It is a pure
// function of its inputs.
//
// Closed statuses (ended, paused, canceled) are authoritative and never
// reopened by time. Draft stays draft regardless of timestamps. An active
// item is ended once its end has passed, invalid while its window is
// inverted, upcoming (draft) before its start, and active otherwise.
func ComputeStatus(stored domain.ItemStatus, start, end *time.Time, now time.Time) domain.EffectiveStatus {
	switch stored {
	case domain.ItemStatusEnded:
		return domain.EffectiveEnded
	case domain.ItemStatusPaused:
		return domain.EffectivePaused
	case domain.ItemStatusCanceled:
		return domain.EffectiveCanceled
	case domain.ItemStatusDraft:
		return domain.EffectiveDraft
	case domain.ItemStatusActive:
	default:
		// Unknown stored values are treated as hidden.
		return domain.EffectiveDraft
	}

	if start == nil && end == nil {
		return domain.EffectiveActive
	}
	if end != nil && !end.After(now) {
		return domain.EffectiveEnded
	}
	if start != nil && end != nil && start.After(*end) {
		return domain.EffectiveInvalid
	}
	if start != nil && start.After(now) {
		return domain.EffectiveDraft
	}
	return domain.EffectiveActive
}

// Of is ComputeStatus applied to an item.
func Of(item domain.AuctionItem, now time.Time) domain.EffectiveStatus {
	return ComputeStatus(item.StoredStatus, item.AuctionStart, item.AuctionEnd, now)
}

// CanBid reports whether bids are accepted for the given effective status.
func CanBid(s domain.EffectiveStatus) bool {
	return s == domain.EffectiveActive
}

// IsClosed reports whether the effective status can never reopen on its own.
func IsClosed(s domain.EffectiveStatus) bool {
	switch s {
	case domain.EffectiveEnded, domain.EffectivePaused, domain.EffectiveCanceled:
		return true
	}
	return false
}

// AsActivated returns the effective status a draft item would have if its
// stored status were flipped to active right now. The scheduler uses it to
// decide draft -> active promotions without a second copy of the rules.
// A draft with no start time is unconfigured and never auto-activates.
func AsActivated(item domain.AuctionItem, now time.Time) domain.EffectiveStatus {
	if item.AuctionStart == nil {
		return domain.EffectiveDraft
	}
	return ComputeStatus(domain.ItemStatusActive, item.AuctionStart, item.AuctionEnd, now)
}

// Validate checks the auction window for the administrative save path.
func Validate(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return domain.ErrInvalidSchedule
	}
	return nil
}
