package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrInvalidInput = errors.New("invalid input")

	// Bid placement outcomes surfaced to bidders.
	ErrItemNotFound      = errors.New("item not found")
	ErrAuctionNotStarted = errors.New("auction not started")
	ErrAuctionEnded      = errors.New("auction ended")
	ErrBidTooLow         = errors.New("bid too low")
	ErrInvalidSchedule   = errors.New("invalid schedule data")
	ErrInvalidAmount     = errors.New("invalid bid amount")

	// Internal failures.
	ErrTransactionFailure   = errors.New("transaction failure")
	ErrNotificationDelivery = errors.New("notification delivery failure")
	ErrSubscriptionExpired  = errors.New("push subscription expired")
	ErrHubUnavailable       = errors.New("realtime hub unavailable")
	ErrInvalidToken         = errors.New("invalid token")
)
