package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/lifecycle"
)

// ItemService defines what the item endpoints need from the service layer.
type ItemService interface {
	Get(ctx context.Context, id string) (domain.AuctionItem, error)
	Save(ctx context.Context, item domain.AuctionItem) (domain.AuctionItem, error)
	Delete(ctx context.Context, id string) error
}

// ItemHandler serves item reads and the administrative save/delete path.
type ItemHandler struct {
	items  ItemService
	clock  clock.Clock
	logger *slog.Logger
}

// NewItemHandler creates an ItemHandler.
func NewItemHandler(items ItemService, clk clock.Clock, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, clock: clk, logger: logHandler(logger, "items")}
}

type itemResponse struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Status          domain.ItemStatus      `json:"status"`
	EffectiveStatus domain.EffectiveStatus `json:"effectiveStatus"`
	AuctionStart    *time.Time             `json:"auctionStart,omitempty"`
	AuctionEnd      *time.Time             `json:"auctionEnd,omitempty"`
	StartingBid     string                 `json:"startingBid"`
	ArchivedAt      *time.Time             `json:"archivedAt,omitempty"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func (h *ItemHandler) present(item domain.AuctionItem) itemResponse {
	return itemResponse{
		ID:              item.ID,
		Title:           item.Title,
		Status:          item.StoredStatus,
		EffectiveStatus: lifecycle.Of(item, h.clock.Now()),
		AuctionStart:    item.AuctionStart,
		AuctionEnd:      item.AuctionEnd,
		StartingBid:     item.StartingBid.StringFixed(domain.MoneyScale),
		ArchivedAt:      item.ArchivedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

// GetItem returns an item with its effective status. Bid amounts are never
// included.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(item))
}

type saveItemRequest struct {
	Title        string            `json:"title"`
	Status       domain.ItemStatus `json:"status"`
	AuctionStart *time.Time        `json:"auctionStart"`
	AuctionEnd   *time.Time        `json:"auctionEnd"`
	StartingBid  decimal.Decimal   `json:"startingBid"`
}

// SaveItem creates or replaces an item and reschedules its lifecycle timers.
// PUT /api/admin/items/{id}
func (h *ItemHandler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var body saveItemRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Status == "" {
		body.Status = domain.ItemStatusDraft
	}

	saved, err := h.items.Save(r.Context(), domain.AuctionItem{
		ID:           pathParam(r, "id"),
		Title:        body.Title,
		StoredStatus: body.Status,
		AuctionStart: body.AuctionStart,
		AuctionEnd:   body.AuctionEnd,
		StartingBid:  body.StartingBid,
	})
	if err != nil {
		fail(w, r, h.logger, "save item", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(saved))
}

// DeleteItem removes an item and its bids and cancels its timers.
// DELETE /api/admin/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.items.Delete(r.Context(), pathParam(r, "id")); err != nil {
		fail(w, r, h.logger, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
