package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ItemStore persists auction items. Creation and editing belong to the
// administrative collaborator; the core only reads items and applies
// conditional status transitions.
type ItemStore interface {
	GetByID(ctx context.Context, id string) (AuctionItem, error)
	GetMany(ctx context.Context, ids []string) ([]AuctionItem, error)
	Upsert(ctx context.Context, item AuctionItem) error
	// Delete removes the item and cascades to its bids.
	Delete(ctx context.Context, id string) error
	// TransitionStatus sets status to `to` only when it currently equals
	// `from`. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id string, from, to ItemStatus) (bool, error)
	ListByStatus(ctx context.Context, statuses ...ItemStatus) ([]AuctionItem, error)
	ListUnarchived(ctx context.Context, status ItemStatus, limit int) ([]AuctionItem, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// BidStore provides the non-locking read side of the bid ledger.
type BidStore interface {
	GetByID(ctx context.Context, id string) (Bid, error)
	ListByItem(ctx context.Context, itemID string) ([]Bid, error)
	// HighestValidExcluding returns the highest valid bid on the item other
	// than excludeBidID (ties broken by earliest placement).
	HighestValidExcluding(ctx context.Context, itemID, excludeBidID string) (Bid, error)
	Summaries(ctx context.Context, bidderID string, itemIDs []string) (map[string]BidSummary, error)
}

// LedgerTx is the set of operations the bid ledger performs inside one
// transaction. LockItem must be called before any write touching that item.
type LedgerTx interface {
	LockItem(ctx context.Context, itemID string) (AuctionItem, error)
	SetItemStatus(ctx context.Context, itemID string, status ItemStatus) error
	HighestValidBid(ctx context.Context, itemID string) (Bid, bool, error)
	InsertBid(ctx context.Context, bid Bid) error
	ClearWinning(ctx context.Context, itemID, exceptBidID string) error
	GetBid(ctx context.Context, bidID string) (Bid, error)
	DeleteBid(ctx context.Context, bidID string) error
	SetWinning(ctx context.Context, bidID string) error
}

// LedgerStore runs fn inside a single transaction. Any error returned by fn
// rolls the whole transaction back; locks are released at commit/rollback.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// PushSubscriptionStore persists registered push endpoints.
type PushSubscriptionStore interface {
	Upsert(ctx context.Context, sub PushSubscription) error
	Delete(ctx context.Context, endpoint string) error
	ListByBidder(ctx context.Context, bidderID string) ([]PushSubscription, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
