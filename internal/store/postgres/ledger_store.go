package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// LedgerStore implements domain.LedgerStore. Each InTx call is one
// READ COMMITTED transaction; LockItem takes the item's row lock, which is
// released at commit or rollback.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InTx runs fn in a transaction and commits if it returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockItem(ctx context.Context, itemID string) (domain.AuctionItem, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = $1 FOR UPDATE`
	item, err := scanItem(t.tx.QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuctionItem{}, fmt.Errorf("postgres: lock item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AuctionItem{}, fmt.Errorf("postgres: lock item %s: %w", itemID, err)
	}
	return item, nil
}

func (t *ledgerTx) SetItemStatus(ctx context.Context, itemID string, status domain.ItemStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE auction_items SET status = $2, updated_at = NOW() WHERE id = $1`,
		itemID, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: set item status %s: %w", itemID, err)
	}
	return nil
}

func (t *ledgerTx) HighestValidBid(ctx context.Context, itemID string) (domain.Bid, bool, error) {
	query := `SELECT ` + bidColumns + ` FROM bids
		WHERE item_id = $1 AND bid_status = 'valid'
		ORDER BY amount DESC, placed_at ASC, id ASC
		LIMIT 1`
	b, err := scanBid(t.tx.QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, false, nil
	}
	if err != nil {
		return domain.Bid{}, false, fmt.Errorf("postgres: highest bid on %s: %w", itemID, err)
	}
	return b, true, nil
}

func (t *ledgerTx) InsertBid(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (
			id, item_id, bidder_id, amount, placed_at,
			is_winning, bid_status, source_address
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`
	_, err := t.tx.Exec(ctx, query,
		b.ID, b.ItemID, b.BidderID, money(b.Amount), b.PlacedAt,
		b.IsWinning, string(b.Status), b.SourceAddress,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}
	return nil
}

func (t *ledgerTx) ClearWinning(ctx context.Context, itemID, exceptBidID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE item_id = $1 AND is_winning AND id <> $2`,
		itemID, exceptBidID,
	)
	if err != nil {
		return fmt.Errorf("postgres: clear winning on %s: %w", itemID, err)
	}
	return nil
}

func (t *ledgerTx) GetBid(ctx context.Context, bidID string) (domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	b, err := scanBid(t.tx.QueryRow(ctx, query, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", bidID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", bidID, err)
	}
	return b, nil
}

func (t *ledgerTx) DeleteBid(ctx context.Context, bidID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bids WHERE id = $1`, bidID)
	if err != nil {
		return fmt.Errorf("postgres: delete bid %s: %w", bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete bid %s: %w", bidID, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) SetWinning(ctx context.Context, bidID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bids SET is_winning = TRUE WHERE id = $1 AND bid_status = 'valid'`,
		bidID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set winning %s: %w", bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set winning %s: %w", bidID, domain.ErrNotFound)
	}
	return nil
}
