package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/server/middleware"
)

// StatusService defines what the polling endpoints need from the service
// layer.
type StatusService interface {
	PollStatus(ctx context.Context, bidderID string, itemIDs []string) (map[string]domain.ItemPollStatus, error)
	ConsumeOutbidEvents(ctx context.Context, bidderID string) ([]domain.OutbidEvent, error)
}

// PollHandler serves the polling fallback used when realtime delivery is
// unavailable to a client.
type PollHandler struct {
	status StatusService
	logger *slog.Logger
}

// NewPollHandler creates a PollHandler.
func NewPollHandler(status StatusService, logger *slog.Logger) *PollHandler {
	return &PollHandler{status: status, logger: logHandler(logger, "poll")}
}

type pollStatusResponse struct {
	Items map[string]domain.ItemPollStatus `json:"items"`
}

// PollStatus reports the caller's standing on each requested item. Items may
// be given comma-separated, as repeated parameters, or both. Unknown items
// are omitted.
// GET /api/bids/status?items=a,b
func (h *PollHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.BidderID(r.Context())
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderBidderID)
		return
	}

	var ids []string
	for _, v := range r.URL.Query()["items"] {
		ids = append(ids, strings.Split(v, ",")...)
	}

	statuses, err := h.status.PollStatus(r.Context(), bidder, ids)
	if err != nil {
		fail(w, r, h.logger, "poll status", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, pollStatusResponse{Items: statuses})
}

type outbidEventsResponse struct {
	Events []domain.OutbidEvent `json:"events"`
}

// ConsumeOutbidEvents returns and clears the caller's queued outbid events.
// POST /api/bids/outbid/consume
func (h *PollHandler) ConsumeOutbidEvents(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.BidderID(r.Context())
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderBidderID)
		return
	}

	events, err := h.status.ConsumeOutbidEvents(r.Context(), bidder)
	if err != nil {
		fail(w, r, h.logger, "consume outbid events", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, outbidEventsResponse{Events: events})
}
