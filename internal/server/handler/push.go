package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/server/middleware"
)

// PushService defines what the push endpoints need from the service layer.
type PushService interface {
	Register(ctx context.Context, bidderID, endpoint string, keys domain.PushKeys) error
	Unregister(ctx context.Context, endpoint string) error
}

// PushHandler manages bidders' Web Push endpoints.
type PushHandler struct {
	subs      PushService
	publicKey string
	logger    *slog.Logger
}

// NewPushHandler creates a PushHandler. publicKey is the VAPID key browsers
// subscribe with; empty means push delivery is not configured.
func NewPushHandler(subs PushService, publicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, publicKey: publicKey, logger: logHandler(logger, "push")}
}

// subscriptionBody mirrors the browser's PushSubscription.toJSON().
type subscriptionBody struct {
	Endpoint       string          `json:"endpoint"`
	ExpirationTime *int64          `json:"expirationTime,omitempty"`
	Keys           domain.PushKeys `json:"keys"`
}

// PublicKey returns the VAPID application server key.
// GET /api/push/public-key
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusNotFound, "push notifications are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

// Register stores the caller's subscription. Registering an endpoint that
// belongs to another bidder moves it to the caller.
// POST /api/push/subscriptions
func (h *PushHandler) Register(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.BidderID(r.Context())
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderBidderID)
		return
	}
	var body subscriptionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.subs.Register(r.Context(), bidder, body.Endpoint, body.Keys); err != nil {
		fail(w, r, h.logger, "register push endpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unregister removes a subscription. Unknown endpoints succeed.
// DELETE /api/push/subscriptions
func (h *PushHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.subs.Unregister(r.Context(), body.Endpoint); err != nil {
		fail(w, r, h.logger, "unregister push endpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
