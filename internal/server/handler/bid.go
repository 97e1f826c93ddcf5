package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/ledger"
	"github.com/alanyoungcy/silentauction/internal/server/middleware"
)

// BidService defines the methods the bid handler requires from the service
// layer.
type BidService interface {
	PlaceBid(ctx context.Context, req ledger.PlaceBidRequest) (domain.PlaceBidResult, func(), error)
	DeleteBid(ctx context.Context, bidID string) (ledger.DeleteOutcome, error)
}

// BidHandler serves bid placement and the administrative deletion path.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, logger: logHandler(logger, "bids")}
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type placeBidResponse struct {
	Accepted    bool                `json:"accepted"`
	Reason      domain.RejectReason `json:"reason,omitempty"`
	BidID       string              `json:"bidId,omitempty"`
	CurrentHigh string              `json:"currentHigh"`
}

// PlaceBid places a bid for the calling bidder. Accepted bids answer 201 and
// rejections answer with the status matching their reason; both carry the
// placement result. Push delivery is queued only after the response is
// flushed.
// POST /api/items/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.BidderID(r.Context())
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderBidderID)
		return
	}
	itemID := pathParam(r, "id")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	var body placeBidRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, after, err := h.bids.PlaceBid(r.Context(), ledger.PlaceBidRequest{
		ItemID:        itemID,
		BidderID:      bidder,
		Amount:        body.Amount,
		SourceAddress: middleware.ClientIP(r),
	})
	if err != nil {
		fail(w, r, h.logger, "place bid", err)
		return
	}

	code := http.StatusCreated
	if !result.Accepted {
		code = statusFor(result.Reason.Err())
	}
	writeJSON(w, code, placeBidResponse{
		Accepted:    result.Accepted,
		Reason:      result.Reason,
		BidID:       result.BidID,
		CurrentHigh: result.CurrentHigh.StringFixed(domain.MoneyScale),
	})

	if err := http.NewResponseController(w).Flush(); err != nil {
		h.logger.DebugContext(r.Context(), "flush unsupported", slog.String("error", err.Error()))
	}
	after()
}

type deleteBidResponse struct {
	ItemID        string `json:"itemId"`
	WasWinning    bool   `json:"wasWinning"`
	PromotedBidID string `json:"promotedBidId,omitempty"`
}

// DeleteBid removes a bid. When the winning bid is deleted the next highest
// valid bid is promoted.
// DELETE /api/admin/bids/{id}
func (h *BidHandler) DeleteBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bid id")
		return
	}
	out, err := h.bids.DeleteBid(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, "delete bid", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteBidResponse{
		ItemID:        out.ItemID,
		WasWinning:    out.WasWinning,
		PromotedBidID: out.PromotedBidID,
	})
}
