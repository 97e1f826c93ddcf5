// Package archive copies the bid ledger of ended auctions to cold storage.
// Each item becomes one JSONL object (the item on the first line, then its
// bids in placement order) and is marked archived in the item store. Rows
// are never deleted from the primary store here.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

const (
	lockKey     = "archive:run"
	contentType = "application/x-ndjson"
)

// Config tunes an archive run.
type Config struct {
	// Grace is how long after an auction's end its ledger stays unarchived,
	// leaving room for administrative bid deletions.
	Grace time.Duration
	// BatchSize caps items per run.
	BatchSize int
	// LockTTL bounds how long one run holds the cross-instance lock.
	LockTTL time.Duration
}

// Result summarizes one run.
type Result struct {
	Archived int
	Pending  int // ended but still inside the grace period
	Skipped  bool
}

// record is one JSONL line.
type record struct {
	Kind string              `json:"kind"`
	Item *domain.AuctionItem `json:"item,omitempty"`
	Bid  *domain.Bid         `json:"bid,omitempty"`
}

// Archiver uploads ledgers of ended auctions.
type Archiver struct {
	items  domain.ItemStore
	bids   domain.BidStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	locks  domain.LockManager
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader, audit and locks may be nil.
func NewArchiver(
	items domain.ItemStore,
	bids domain.BidStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	locks domain.LockManager,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Archiver{
		items:  items,
		bids:   bids,
		writer: writer,
		reader: reader,
		audit:  audit,
		locks:  locks,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run archives up to BatchSize ended items. A failure on one item is
// collected and the rest are still attempted.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, lockKey, a.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return Result{Skipped: true}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("archive: lock: %w", err)
		}
		defer unlock()
	}

	items, err := a.items.ListUnarchived(ctx, domain.ItemStatusEnded, a.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("archive: list ended items: %w", err)
	}

	var (
		res  Result
		errs []error
	)
	now := a.clock.Now()
	for _, item := range items {
		if item.AuctionEnd != nil && item.AuctionEnd.Add(a.cfg.Grace).After(now) {
			res.Pending++
			continue
		}
		if err := a.archiveItem(ctx, item, now); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Archived++
	}

	if res.Archived > 0 {
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int("archived", res.Archived),
			slog.Int("pending", res.Pending),
		)
	}
	return res, errors.Join(errs...)
}

func (a *Archiver) archiveItem(ctx context.Context, item domain.AuctionItem, now time.Time) error {
	path := Path(item.ID)

	// A previous run may have uploaded the object and failed to mark it.
	uploaded := false
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("archive: %s: %w", item.ID, err)
		}
		uploaded = ok
	}

	var count int
	if !uploaded {
		bids, err := a.bids.ListByItem(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("archive: %s: list bids: %w", item.ID, err)
		}
		buf, err := marshalLedger(item, bids)
		if err != nil {
			return fmt.Errorf("archive: %s: %w", item.ID, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), contentType); err != nil {
			return fmt.Errorf("archive: %s: upload: %w", item.ID, err)
		}
		count = len(bids)
	}

	if err := a.items.MarkArchived(ctx, item.ID, now); err != nil {
		return fmt.Errorf("archive: %s: mark archived: %w", item.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.item", map[string]any{
			"item_id":  item.ID,
			"path":     path,
			"bids":     count,
			"reused":   uploaded,
			"ended_at": formatTime(item.AuctionEnd),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule (UTC) until ctx is
// cancelled.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseSchedule(expr)
	if err != nil {
		return fmt.Errorf("archive: cron %q: %w", expr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("archive: cron %q: %w", expr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Path returns the object path of an item's archived ledger.
func Path(itemID string) string {
	return fmt.Sprintf("ledger/%s.jsonl", itemID)
}

// ValidateCron reports whether expr is a usable schedule.
func ValidateCron(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

func marshalLedger(item domain.AuctionItem, bids []domain.Bid) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(record{Kind: "item", Item: &item}); err != nil {
		return nil, fmt.Errorf("jsonl encode item: %w", err)
	}
	for i := range bids {
		if err := enc.Encode(record{Kind: "bid", Bid: &bids[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode bid %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
