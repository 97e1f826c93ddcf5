package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/silentauction/internal/server/middleware"
)

// TokenIssuer mints hub subscriber tokens.
type TokenIssuer interface {
	SubscriberToken(bidderID string) (string, time.Time, error)
}

// TopicNamer names the topics a client may subscribe to.
type TopicNamer interface {
	Bidder(bidderID string) string
	ItemTemplate() string
}

// RealtimeHandler hands clients what they need to connect to the hub.
type RealtimeHandler struct {
	tokens TokenIssuer
	topics TopicNamer
	hubURL string
	logger *slog.Logger
}

// NewRealtimeHandler creates a RealtimeHandler. hubURL is where clients
// connect: the external hub, or this server's /ws endpoint.
func NewRealtimeHandler(tokens TokenIssuer, topics TopicNamer, hubURL string, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{tokens: tokens, topics: topics, hubURL: hubURL, logger: logHandler(logger, "realtime")}
}

type subscriberTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	HubURL    string    `json:"hubUrl"`
	Topics    []string  `json:"topics"`
}

// SubscriberToken issues a token for the item topics and, when the caller
// identified themselves, their private bidder topic.
// GET /api/realtime/token
func (h *RealtimeHandler) SubscriberToken(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.BidderID(r.Context())
	token, exp, err := h.tokens.SubscriberToken(bidder)
	if err != nil {
		fail(w, r, h.logger, "issue subscriber token", err)
		return
	}

	topics := []string{h.topics.ItemTemplate()}
	if bidder != "" {
		topics = append(topics, h.topics.Bidder(bidder))
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, subscriberTokenResponse{
		Token:     token,
		ExpiresAt: exp.UTC(),
		HubURL:    h.hubURL,
		Topics:    topics,
	})
}
