package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

// PushService manages bidders' push endpoints.
type PushService struct {
	subs   domain.PushSubscriptionStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewPushService creates a PushService.
func NewPushService(subs domain.PushSubscriptionStore, clk clock.Clock, logger *slog.Logger) *PushService {
	return &PushService{
		subs:   subs,
		clock:  clk,
		logger: logger.With(slog.String("component", "push_service")),
	}
}

// Register stores (or re-assigns) an endpoint for the bidder.
func (s *PushService) Register(ctx context.Context, bidderID, endpoint string, keys domain.PushKeys) error {
	if bidderID == "" {
		return fmt.Errorf("push: register: missing bidder: %w", domain.ErrInvalidInput)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("push: register: endpoint must be an https URL: %w", domain.ErrInvalidInput)
	}
	if keys.P256dh == "" || keys.Auth == "" {
		return fmt.Errorf("push: register: missing keys: %w", domain.ErrInvalidInput)
	}

	sub := domain.PushSubscription{
		Endpoint:  endpoint,
		BidderID:  bidderID,
		Keys:      keys,
		CreatedAt: s.clock.Now(),
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("push: register: %w", err)
	}
	s.logger.InfoContext(ctx, "push endpoint registered",
		slog.String("bidder_id", bidderID),
		slog.String("host", u.Host),
	)
	return nil
}

// Unregister removes an endpoint. Unknown endpoints are ignored.
func (s *PushService) Unregister(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("push: unregister: missing endpoint: %w", domain.ErrInvalidInput)
	}
	if err := s.subs.Delete(ctx, endpoint); err != nil {
		return fmt.Errorf("push: unregister: %w", err)
	}
	return nil
}
