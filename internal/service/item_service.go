package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/lifecycle"
)

// TimerScheduler is notified after every item save or delete so lifecycle
// timers can be recomputed.
type TimerScheduler interface {
	OnItemSaved(item domain.AuctionItem)
	OnItemDeleted(itemID string)
}

// ItemService is the narrow save/delete path the administrative
// collaborator calls. It validates, persists and notifies the scheduler.
type ItemService struct {
	items     domain.ItemStore
	scheduler TimerScheduler
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewItemService creates an ItemService. scheduler may be nil when this
// process runs no timers.
func NewItemService(items domain.ItemStore, scheduler TimerScheduler, audit domain.AuditStore, logger *slog.Logger) *ItemService {
	return &ItemService{
		items:     items,
		scheduler: scheduler,
		audit:     audit,
		logger:    logger.With(slog.String("component", "item_service")),
	}
}

// Get returns one item.
func (s *ItemService) Get(ctx context.Context, id string) (domain.AuctionItem, error) {
	return s.items.GetByID(ctx, id)
}

// Save creates or updates an item. The stored status is taken as given;
// time-based status is always derived at read time.
func (s *ItemService) Save(ctx context.Context, item domain.AuctionItem) (domain.AuctionItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return domain.AuctionItem{}, fmt.Errorf("items: save: missing id: %w", domain.ErrInvalidInput)
	}
	if !item.StoredStatus.Valid() {
		return domain.AuctionItem{}, fmt.Errorf("items: save %s: unknown status %q: %w", item.ID, item.StoredStatus, domain.ErrInvalidInput)
	}
	if item.StartingBid.IsNegative() {
		return domain.AuctionItem{}, fmt.Errorf("items: save %s: negative starting bid: %w", item.ID, domain.ErrInvalidInput)
	}
	if err := lifecycle.Validate(item.AuctionStart, item.AuctionEnd); err != nil {
		return domain.AuctionItem{}, fmt.Errorf("items: save %s: %w", item.ID, err)
	}
	item.StartingBid = item.StartingBid.Round(domain.MoneyScale)

	if err := s.items.Upsert(ctx, item); err != nil {
		return domain.AuctionItem{}, fmt.Errorf("items: save %s: %w", item.ID, err)
	}
	saved, err := s.items.GetByID(ctx, item.ID)
	if err != nil {
		return domain.AuctionItem{}, fmt.Errorf("items: reload %s: %w", item.ID, err)
	}

	if s.scheduler != nil {
		s.scheduler.OnItemSaved(saved)
	}
	s.logger.InfoContext(ctx, "item saved",
		slog.String("item_id", saved.ID),
		slog.String("status", string(saved.StoredStatus)),
	)
	return saved, nil
}

// Delete removes an item and its bids and cancels its timers.
func (s *ItemService) Delete(ctx context.Context, id string) error {
	if err := s.items.Delete(ctx, id); err != nil {
		return fmt.Errorf("items: delete %s: %w", id, err)
	}
	if s.scheduler != nil {
		s.scheduler.OnItemDeleted(id)
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "item.deleted", map[string]any{"item_id": id}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "item deleted", slog.String("item_id", id))
	return nil
}
