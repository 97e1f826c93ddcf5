package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

// GetByID returns a single item or domain.ErrNotFound.
func (s *ItemStore) GetByID(ctx context.Context, id string) (domain.AuctionItem, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = $1`
	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuctionItem{}, fmt.Errorf("postgres: get item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AuctionItem{}, fmt.Errorf("postgres: get item %s: %w", id, err)
	}
	return item, nil
}

// GetMany returns the existing items among ids, in the order requested.
func (s *ItemStore) GetMany(ctx context.Context, ids []string) ([]domain.AuctionItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = ANY($1)`
	found, err := s.list(ctx, "get items", query, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.AuctionItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}
	out := make([]domain.AuctionItem, 0, len(found))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Upsert inserts or updates an item. created_at and archived_at are kept on
// update.
func (s *ItemStore) Upsert(ctx context.Context, item domain.AuctionItem) error {
	var createdAt *time.Time
	if !item.CreatedAt.IsZero() {
		createdAt = &item.CreatedAt
	}

	const query = `
		INSERT INTO auction_items (
			id, title, status, auction_start, auction_end, starting_bid,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::numeric,
			COALESCE($7, NOW()), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title         = EXCLUDED.title,
			status        = EXCLUDED.status,
			auction_start = EXCLUDED.auction_start,
			auction_end   = EXCLUDED.auction_end,
			starting_bid  = EXCLUDED.starting_bid,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		item.ID, item.Title, string(item.StoredStatus),
		item.AuctionStart, item.AuctionEnd, money(item.StartingBid),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert item %s: %w", item.ID, err)
	}
	return nil
}

// Delete removes the item; its bids go with it via ON DELETE CASCADE.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auction_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete item %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// TransitionStatus is a conditional update: it only changes rows still in
// the expected status.
func (s *ItemStore) TransitionStatus(ctx context.Context, id string, from, to domain.ItemStatus) (bool, error) {
	const query = `
		UPDATE auction_items SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("postgres: transition item %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStatus returns every item whose stored status is one of statuses.
func (s *ItemStore) ListByStatus(ctx context.Context, statuses ...domain.ItemStatus) ([]domain.AuctionItem, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE status = ANY($1) ORDER BY id`
	return s.list(ctx, "list items by status", query, names)
}

// ListUnarchived returns up to limit items in status without archived_at,
// oldest update first.
func (s *ItemStore) ListUnarchived(ctx context.Context, status domain.ItemStatus, limit int) ([]domain.AuctionItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + itemColumns + ` FROM auction_items
		WHERE status = $1 AND archived_at IS NULL
		ORDER BY updated_at, id
		LIMIT $2`
	return s.list(ctx, "list unarchived items", query, string(status), limit)
}

// MarkArchived records when the item's ledger was archived.
func (s *ItemStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE auction_items SET archived_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark archived %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark archived %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ItemStore) list(ctx context.Context, op, query string, args ...any) ([]domain.AuctionItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var items []domain.AuctionItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return items, nil
}
