package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Reads take no
// locks.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// GetByID returns a single bid or domain.ErrNotFound.
func (s *BidStore) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	b, err := scanBid(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", id, err)
	}
	return b, nil
}

// ListByItem returns the item's bids in placement order.
func (s *BidStore) ListByItem(ctx context.Context, itemID string) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE item_id = $1 ORDER BY placed_at, id`
	rows, err := s.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", itemID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list bids %s: scan: %w", itemID, err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids %s rows: %w", itemID, err)
	}
	return bids, nil
}

// HighestValidExcluding returns the highest valid bid on the item other than
// excludeBidID, ties going to the earliest placement.
func (s *BidStore) HighestValidExcluding(ctx context.Context, itemID, excludeBidID string) (domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids
		WHERE item_id = $1 AND bid_status = 'valid' AND id <> $2
		ORDER BY amount DESC, placed_at ASC, id ASC
		LIMIT 1`
	b, err := scanBid(s.pool.QueryRow(ctx, query, itemID, excludeBidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, fmt.Errorf("postgres: highest bid on %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: highest bid on %s: %w", itemID, err)
	}
	return b, nil
}

// Summaries aggregates the bidder's standing on each item in one query.
func (s *BidStore) Summaries(ctx context.Context, bidderID string, itemIDs []string) (map[string]domain.BidSummary, error) {
	out := make(map[string]domain.BidSummary, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = domain.BidSummary{ItemID: id}
	}
	if len(itemIDs) == 0 {
		return out, nil
	}

	const query = `
		SELECT item_id,
		       bool_or(bid_status = 'valid'),
		       bool_or(bidder_id = $1),
		       bool_or(bidder_id = $1 AND is_winning)
		FROM bids
		WHERE item_id = ANY($2)
		GROUP BY item_id`
	rows, err := s.pool.Query(ctx, query, bidderID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: bid summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sum domain.BidSummary
		if err := rows.Scan(&sum.ItemID, &sum.HasBids, &sum.HasBid, &sum.IsWinning); err != nil {
			return nil, fmt.Errorf("postgres: bid summaries: scan: %w", err)
		}
		out[sum.ItemID] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bid summaries rows: %w", err)
	}
	return out, nil
}
