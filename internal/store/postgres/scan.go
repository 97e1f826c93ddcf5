package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// Amounts cross the driver boundary as text so NUMERIC values keep their
// exact scale.
const itemColumns = `id, title, status, auction_start, auction_end,
	starting_bid::text, archived_at, created_at, updated_at`

const bidColumns = `id, item_id, bidder_id, amount::text, placed_at,
	is_winning, bid_status, source_address`

func scanItem(row pgx.Row) (domain.AuctionItem, error) {
	var (
		item        domain.AuctionItem
		status      string
		startingBid string
	)
	err := row.Scan(
		&item.ID, &item.Title, &status, &item.AuctionStart, &item.AuctionEnd,
		&startingBid, &item.ArchivedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return domain.AuctionItem{}, err
	}
	item.StoredStatus = domain.ItemStatus(status)
	item.StartingBid, err = decimal.NewFromString(startingBid)
	if err != nil {
		return domain.AuctionItem{}, fmt.Errorf("parse starting_bid %q: %w", startingBid, err)
	}
	item.AuctionStart = utcPtr(item.AuctionStart)
	item.AuctionEnd = utcPtr(item.AuctionEnd)
	item.ArchivedAt = utcPtr(item.ArchivedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func scanBid(row pgx.Row) (domain.Bid, error) {
	var (
		b      domain.Bid
		amount string
		status string
	)
	err := row.Scan(
		&b.ID, &b.ItemID, &b.BidderID, &amount, &b.PlacedAt,
		&b.IsWinning, &status, &b.SourceAddress,
	)
	if err != nil {
		return domain.Bid{}, err
	}
	b.Status = domain.BidStatus(status)
	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	b.PlacedAt = b.PlacedAt.UTC()
	return b, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// money formats an amount for a NUMERIC(12,2) parameter.
func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyScale)
}
