package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/lifecycle"
)

// MaxPollItems caps how many items one poll may ask about.
const MaxPollItems = 100

// computeTimeout bounds one shared poll computation.
const computeTimeout = 5 * time.Second

// StatusService answers bidder polls and drains the polling-fallback queue.
type StatusService struct {
	items  domain.ItemStore
	bids   domain.BidStore
	cache  domain.StatusCache
	outbid domain.OutbidQueue
	clock  clock.Clock
	group  singleflight.Group
	logger *slog.Logger
}

// NewStatusService creates a StatusService. cache may be nil.
func NewStatusService(items domain.ItemStore, bids domain.BidStore, cache domain.StatusCache, outbid domain.OutbidQueue, clk clock.Clock, logger *slog.Logger) *StatusService {
	return &StatusService{
		items:  items,
		bids:   bids,
		cache:  cache,
		outbid: outbid,
		clock:  clk,
		logger: logger.With(slog.String("component", "status_service")),
	}
}

// NormalizeItemIDs trims, de-duplicates and sorts ids so equal item sets
// share a cache entry.
func NormalizeItemIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PollStatus returns the bidder's standing on each known item. Unknown item
// ids are omitted. Answers may be a few seconds stale.
func (s *StatusService) PollStatus(ctx context.Context, bidderID string, itemIDs []string) (map[string]domain.ItemPollStatus, error) {
	ids := NormalizeItemIDs(itemIDs)
	if len(ids) == 0 {
		return map[string]domain.ItemPollStatus{}, nil
	}
	if len(ids) > MaxPollItems {
		return nil, fmt.Errorf("status: %d items requested, max %d: %w", len(ids), MaxPollItems, domain.ErrInvalidInput)
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, bidderID, ids)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "status cache read failed", slog.String("error", err.Error()))
		}
	}

	// The shared computation is detached from any single poller's cancellation.
	key := bidderID + "|" + strings.Join(ids, ",")
	results := s.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		return s.compute(cctx, bidderID, ids)
	})

	var res singleflight.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("status: poll: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	statuses := res.Val.(map[string]domain.ItemPollStatus)

	out := make(map[string]domain.ItemPollStatus, len(statuses))
	for id, st := range statuses {
		out[id] = st
	}
	return out, nil
}

func (s *StatusService) compute(ctx context.Context, bidderID string, ids []string) (map[string]domain.ItemPollStatus, error) {
	items, err := s.items.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("status: load items: %w", err)
	}
	summaries, err := s.bids.Summaries(ctx, bidderID, ids)
	if err != nil {
		return nil, fmt.Errorf("status: load bids: %w", err)
	}

	now := s.clock.Now()
	out := make(map[string]domain.ItemPollStatus, len(items))
	for _, item := range items {
		sum := summaries[item.ID]
		out[item.ID] = domain.ItemPollStatus{
			IsWinning:       sum.IsWinning,
			HasBids:         sum.HasBids,
			EffectiveStatus: lifecycle.Of(item, now),
			HasBid:          sum.HasBid,
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, bidderID, ids, out); err != nil {
			s.logger.WarnContext(ctx, "status cache write failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// ConsumeOutbidEvents returns and clears the bidder's queued outbid events.
func (s *StatusService) ConsumeOutbidEvents(ctx context.Context, bidderID string) ([]domain.OutbidEvent, error) {
	events, err := s.outbid.Drain(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("status: consume outbid events: %w", err)
	}
	if events == nil {
		events = []domain.OutbidEvent{}
	}
	return events, nil
}
