// Package ledger implements bid placement and winning-bid correction. Every
// write runs inside one transaction holding the item's row lock, so bids on
// the same item are serialized and bids on different items never contend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/lifecycle"
)

// PlaceBidRequest is one bid attempt.
type PlaceBidRequest struct {
	ItemID        string
	BidderID      string
	Amount        decimal.Decimal
	SourceAddress string
}

// Outcome is the result of PlaceBid. Event is set only for accepted bids and
// only after the transaction committed.
type Outcome struct {
	Result domain.PlaceBidResult
	Event  *domain.BidPlaced
}

// DeleteOutcome describes what a bid deletion changed.
type DeleteOutcome struct {
	ItemID        string
	WasWinning    bool
	PromotedBidID string
}

// Ledger places and deletes bids.
type Ledger struct {
	store  domain.LedgerStore
	audit  domain.AuditStore
	clock  clock.Clock
	newID  func() string
	logger *slog.Logger
}

// New creates a Ledger.
func New(store domain.LedgerStore, audit domain.AuditStore, clk clock.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		audit:  audit,
		clock:  clk,
		newID:  uuid.NewString,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// PlaceBid runs the placement protocol for one bid. Business rejections are
// reported in the result with a nil error; a datastore failure rolls the
// transaction back and returns an error wrapping domain.ErrTransactionFailure.
func (l *Ledger) PlaceBid(ctx context.Context, req PlaceBidRequest) (Outcome, error) {
	// Amounts are taken as given: finer precision than the currency keeps is
	// rejected, never rounded into or out of the accept range.
	amount := req.Amount
	if !amount.Equal(amount.Truncate(domain.MoneyScale)) || !amount.IsPositive() {
		return Outcome{}, fmt.Errorf("ledger: place bid on %s: %w", req.ItemID, domain.ErrInvalidAmount)
	}

	var (
		out       Outcome
		corrected bool
	)
	err := l.store.InTx(ctx, func(tx domain.LedgerTx) error {
		out, corrected = Outcome{}, false

		item, err := tx.LockItem(ctx, req.ItemID)
		if errors.Is(err, domain.ErrNotFound) {
			out.Result = reject(domain.ReasonItemNotFound, decimal.Zero)
			return nil
		}
		if err != nil {
			return err
		}

		eff := lifecycle.Of(item, l.clock.Now())
		if !lifecycle.CanBid(eff) {
			switch eff {
			case domain.EffectiveDraft:
				out.Result = reject(domain.ReasonAuctionNotStarted, decimal.Zero)
			case domain.EffectiveInvalid:
				out.Result = reject(domain.ReasonInvalidSchedule, decimal.Zero)
			default:
				if eff == domain.EffectiveEnded && item.StoredStatus == domain.ItemStatusActive {
					if err := tx.SetItemStatus(ctx, item.ID, domain.ItemStatusEnded); err != nil {
						return err
					}
					corrected = true
				}
				out.Result = reject(domain.ReasonAuctionEnded, decimal.Zero)
			}
			return nil
		}

		currentHigh := decimal.Zero
		high, hasHigh, err := tx.HighestValidBid(ctx, item.ID)
		if err != nil {
			return err
		}
		if hasHigh {
			currentHigh = high.Amount
		}

		bid := domain.Bid{
			ID:            l.newID(),
			ItemID:        item.ID,
			BidderID:      req.BidderID,
			Amount:        amount,
			PlacedAt:      l.clock.Now(),
			SourceAddress: req.SourceAddress,
		}

		if !accepts(amount, currentHigh, hasHigh, item.StartingBid) {
			bid.Status = domain.BidStatusTooLow
			if err := tx.InsertBid(ctx, bid); err != nil {
				return err
			}
			out.Result = reject(domain.ReasonBidTooLow, currentHigh)
			out.Result.BidID = bid.ID
			return nil
		}

		bid.Status = domain.BidStatusValid
		bid.IsWinning = true
		// Winners are cleared before the insert so no intermediate state
		// ever holds two winning rows.
		if err := tx.ClearWinning(ctx, item.ID, ""); err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}

		out.Result = domain.PlaceBidResult{Accepted: true, BidID: bid.ID, CurrentHigh: amount}
		out.Event = &domain.BidPlaced{
			BidID:     bid.ID,
			ItemID:    item.ID,
			ItemTitle: item.Title,
			BidderID:  bid.BidderID,
			Amount:    amount,
			PlacedAt:  bid.PlacedAt,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger: place bid on %s: %w: %w", req.ItemID, domain.ErrTransactionFailure, err)
	}

	if corrected {
		l.logger.InfoContext(ctx, "corrected stored status on bid attempt",
			slog.String("item_id", req.ItemID),
			slog.String("status", string(domain.ItemStatusEnded)),
		)
		l.auditLog(ctx, "item.status_corrected", map[string]any{
			"item_id": req.ItemID,
			"from":    string(domain.ItemStatusActive),
			"to":      string(domain.ItemStatusEnded),
			"trigger": "bid",
		})
	}
	return out, nil
}

// DeleteBid removes a bid. When the bid was winning, the highest remaining
// valid bid on the item is promoted in the same transaction.
func (l *Ledger) DeleteBid(ctx context.Context, bidID string) (DeleteOutcome, error) {
	var out DeleteOutcome
	err := l.store.InTx(ctx, func(tx domain.LedgerTx) error {
		out = DeleteOutcome{}

		bid, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if _, err := tx.LockItem(ctx, bid.ItemID); err != nil {
			return err
		}
		// Re-read under the lock; a concurrent placement may have changed
		// the winning flag.
		bid, err = tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}

		out.ItemID = bid.ItemID
		out.WasWinning = bid.IsWinning
		if err := tx.DeleteBid(ctx, bid.ID); err != nil {
			return err
		}
		if !bid.IsWinning {
			return nil
		}

		next, ok, err := tx.HighestValidBid(ctx, bid.ItemID)
		if err != nil || !ok {
			return err
		}
		if err := tx.SetWinning(ctx, next.ID); err != nil {
			return err
		}
		out.PromotedBidID = next.ID
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return DeleteOutcome{}, fmt.Errorf("ledger: delete bid %s: %w", bidID, domain.ErrNotFound)
	}
	if err != nil {
		return DeleteOutcome{}, fmt.Errorf("ledger: delete bid %s: %w: %w", bidID, domain.ErrTransactionFailure, err)
	}

	l.logger.InfoContext(ctx, "bid deleted",
		slog.String("bid_id", bidID),
		slog.String("item_id", out.ItemID),
		slog.Bool("was_winning", out.WasWinning),
		slog.String("promoted_bid_id", out.PromotedBidID),
	)
	l.auditLog(ctx, "bid.deleted", map[string]any{
		"bid_id":          bidID,
		"item_id":         out.ItemID,
		"was_winning":     out.WasWinning,
		"promoted_bid_id": out.PromotedBidID,
	})
	return out, nil
}

// accepts applies the acceptance rule: strictly above the current high, or
// at least the starting bid when no valid bid exists yet.
func accepts(amount, currentHigh decimal.Decimal, hasHigh bool, startingBid decimal.Decimal) bool {
	if hasHigh {
		return amount.GreaterThan(currentHigh)
	}
	return amount.GreaterThanOrEqual(startingBid)
}

func reject(reason domain.RejectReason, currentHigh decimal.Decimal) domain.PlaceBidResult {
	return domain.PlaceBidResult{Reason: reason, CurrentHigh: currentHigh}
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
