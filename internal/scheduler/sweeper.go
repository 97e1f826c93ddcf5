package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

const sweepLockKey = "scheduler:sweep"

// SweepResult counts the transitions one sweep applied.
type SweepResult struct {
	Scanned   int
	Activated int
	Ended     int
	Skipped   bool // another instance held the sweep lock
}

// Sweeper periodically promotes draft -> active and active -> ended wherever
// a timer was missed.
type Sweeper struct {
	items   domain.ItemStore
	locks   domain.LockManager
	clock   clock.Clock
	tr      transitioner
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewSweeper creates a Sweeper. locks may be nil for a single-instance
// deployment.
func NewSweeper(items domain.ItemStore, audit domain.AuditStore, locks domain.LockManager, clk clock.Clock, lockTTL time.Duration, logger *slog.Logger) *Sweeper {
	logger = logger.With(slog.String("component", "sweeper"))
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Sweeper{
		items:   items,
		locks:   locks,
		clock:   clk,
		tr:      transitioner{items: items, audit: audit, logger: logger},
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Sweep runs one pass. Running it twice in a row is a no-op the second time.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweepLockKey, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweep skipped, lock held elsewhere")
			return SweepResult{Skipped: true}, nil
		}
		if err != nil {
			return SweepResult{}, fmt.Errorf("scheduler: sweep lock: %w", err)
		}
		defer unlock()
	}

	items, err := s.items.ListByStatus(ctx, domain.ItemStatusDraft, domain.ItemStatusActive)
	if err != nil {
		return SweepResult{}, fmt.Errorf("scheduler: sweep list: %w", err)
	}

	res := SweepResult{Scanned: len(items)}
	now := s.clock.Now()
	var errs []error
	for _, item := range items {
		d := decide(item, now)
		if d == decideNothing {
			continue
		}
		changed, err := s.tr.apply(ctx, item, d, "sweep")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		switch d {
		case decideActivate:
			res.Activated++
		case decideEnd:
			res.Ended++
		}
	}

	if res.Activated > 0 || res.Ended > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("scanned", res.Scanned),
			slog.Int("activated", res.Activated),
			slog.Int("ended", res.Ended),
		)
	}
	return res, errors.Join(errs...)
}

// RunLoop sweeps immediately and then on every interval until ctx is
// cancelled.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
