// Package scheduler keeps item lifecycles moving: one-shot timers fire at
// each item's start and end, and a periodic sweep catches whatever the
// timers missed. Neither is needed for correctness; the lifecycle evaluator
// already treats an expired item as ended.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

// Scheduler owns at most one live timer per (item, kind).
type Scheduler struct {
	items       domain.ItemStore
	clock       clock.Clock
	tr          transitioner
	fireTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	timers map[domain.TransitionKey]*entry
	closed bool
}

type entry struct {
	timer clock.Timer
	at    time.Time
}

// New creates a Scheduler. fireTimeout bounds the store work done by a
// single timer callback.
func New(items domain.ItemStore, audit domain.AuditStore, clk clock.Clock, fireTimeout time.Duration, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	if fireTimeout <= 0 {
		fireTimeout = 10 * time.Second
	}
	return &Scheduler{
		items:       items,
		clock:       clk,
		tr:          transitioner{items: items, audit: audit, logger: logger},
		fireTimeout: fireTimeout,
		logger:      logger,
		timers:      make(map[domain.TransitionKey]*entry),
	}
}

// OnItemSaved recomputes the item's timers after a create or update.
func (s *Scheduler) OnItemSaved(item domain.AuctionItem) {
	now := s.clock.Now()
	activate := domain.TransitionKey{ItemID: item.ID, Kind: domain.TransitionActivate}
	end := domain.TransitionKey{ItemID: item.ID, Kind: domain.TransitionEnd}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(activate)
	s.cancelLocked(end)

	if item.StoredStatus == domain.ItemStatusDraft && item.AuctionStart != nil && item.AuctionStart.After(now) {
		s.scheduleLocked(activate, *item.AuctionStart, now)
	}
	if (item.StoredStatus == domain.ItemStatusDraft || item.StoredStatus == domain.ItemStatusActive) &&
		item.AuctionEnd != nil && item.AuctionEnd.After(now) {
		s.scheduleLocked(end, *item.AuctionEnd, now)
	}
}

// OnItemDeleted cancels both timers of the item.
func (s *Scheduler) OnItemDeleted(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(domain.TransitionKey{ItemID: itemID, Kind: domain.TransitionActivate})
	s.cancelLocked(domain.TransitionKey{ItemID: itemID, Kind: domain.TransitionEnd})
}

// Rearm schedules timers for every draft or active item, typically once at
// startup.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	items, err := s.items.ListByStatus(ctx, domain.ItemStatusDraft, domain.ItemStatusActive)
	if err != nil {
		return 0, fmt.Errorf("scheduler: rearm: %w", err)
	}
	for _, item := range items {
		s.OnItemSaved(item)
	}
	n := s.Pending()
	s.logger.InfoContext(ctx, "timers rearmed",
		slog.Int("items", len(items)),
		slog.Int("timers", n),
	)
	return n, nil
}

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Scheduled reports when the timer for key fires, if one is live.
func (s *Scheduler) Scheduled(key domain.TransitionKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Close stops every timer. Later saves are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timers {
		s.cancelLocked(key)
	}
	s.closed = true
}

func (s *Scheduler) cancelLocked(key domain.TransitionKey) {
	if e, ok := s.timers[key]; ok {
		e.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *Scheduler) scheduleLocked(key domain.TransitionKey, at, now time.Time) {
	if s.closed {
		return
	}
	e := &entry{at: at}
	e.timer = s.clock.AfterFunc(at.Sub(now), func() {
		s.mu.Lock()
		if s.timers[key] != e {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
		defer cancel()
		if err := s.Fire(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "timer fire failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	})
	s.timers[key] = e
}

// Fire runs the handler for key against the item as currently stored. It is
// safe to call any number of times; once the condition no longer holds it
// does nothing. A fire that arrives before the item's timestamp re-arms.
func (s *Scheduler) Fire(ctx context.Context, key domain.TransitionKey) error {
	item, err := s.items.GetByID(ctx, key.ItemID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: fire %s: %w", key, err)
	}

	now := s.clock.Now()
	switch key.Kind {
	case domain.TransitionActivate:
		if item.StoredStatus != domain.ItemStatusDraft {
			return nil
		}
		if d := decide(item, now); d == decideActivate {
			_, err := s.tr.apply(ctx, item, d, "timer")
			return err
		}
		if item.AuctionStart != nil && item.AuctionStart.After(now) {
			s.rearm(key, *item.AuctionStart, now)
		}
	case domain.TransitionEnd:
		if item.StoredStatus != domain.ItemStatusActive {
			return nil
		}
		if d := decide(item, now); d == decideEnd {
			_, err := s.tr.apply(ctx, item, d, "timer")
			return err
		}
		if item.AuctionEnd != nil && item.AuctionEnd.After(now) {
			s.rearm(key, *item.AuctionEnd, now)
		}
	}
	return nil
}

func (s *Scheduler) rearm(key domain.TransitionKey, at, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; ok {
		return
	}
	s.logger.Debug("early fire, re-arming", slog.String("key", key.String()), slog.Time("at", at))
	s.scheduleLocked(key, at, now)
}
