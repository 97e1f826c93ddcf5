package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/ledger"
)

// Dispatcher hands a committed bid to the notification fan-out. The returned
// function queues work that must wait until the response is written.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt domain.BidPlaced) func()
}

// BidService places and deletes bids and triggers fan-out after commit.
type BidService struct {
	ledger        *ledger.Ledger
	dispatcher    Dispatcher
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// NewBidService creates a BidService.
func NewBidService(l *ledger.Ledger, dispatcher Dispatcher, notifyTimeout time.Duration, logger *slog.Logger) *BidService {
	if notifyTimeout <= 0 {
		notifyTimeout = 5 * time.Second
	}
	return &BidService{
		ledger:        l,
		dispatcher:    dispatcher,
		notifyTimeout: notifyTimeout,
		logger:        logger.With(slog.String("component", "bid_service")),
	}
}

// PlaceBid places a bid. For accepted bids the immediate notification
// channels have already run when it returns; the returned function must be
// called after the HTTP response is flushed to queue push delivery. It is
// never nil.
func (s *BidService) PlaceBid(ctx context.Context, req ledger.PlaceBidRequest) (domain.PlaceBidResult, func(), error) {
	out, err := s.ledger.PlaceBid(ctx, req)
	if err != nil {
		return domain.PlaceBidResult{}, noop, err
	}

	s.logger.InfoContext(ctx, "bid processed",
		slog.String("item_id", req.ItemID),
		slog.String("bidder_id", req.BidderID),
		slog.Bool("accepted", out.Result.Accepted),
		slog.String("reason", string(out.Result.Reason)),
	)

	if out.Event == nil || s.dispatcher == nil {
		return out.Result, noop, nil
	}

	// The bid is committed; notification work must outlive a client that
	// disconnects.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	after := s.dispatcher.Dispatch(nctx, *out.Event)
	return out.Result, after, nil
}

// DeleteBid removes a bid through the administrative correction path.
func (s *BidService) DeleteBid(ctx context.Context, bidID string) (ledger.DeleteOutcome, error) {
	return s.ledger.DeleteBid(ctx, bidID)
}

func noop() {}
