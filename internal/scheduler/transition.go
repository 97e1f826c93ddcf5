package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/lifecycle"
)

// decision is what the evaluator says should happen to a stored item now.
type decision int

const (
	decideNothing decision = iota
	decideActivate
	decideEnd
)

// decide maps an item to the transition the evaluator calls for. Draft items
// are promoted only when they would be active once flipped; active items are
// ended only once the evaluator reports them ended.
func decide(item domain.AuctionItem, now time.Time) decision {
	switch item.StoredStatus {
	case domain.ItemStatusDraft:
		if lifecycle.AsActivated(item, now) == domain.EffectiveActive {
			return decideActivate
		}
	case domain.ItemStatusActive:
		if lifecycle.Of(item, now) == domain.EffectiveEnded {
			return decideEnd
		}
	}
	return decideNothing
}

// transitioner applies conditional status flips and records them.
type transitioner struct {
	items  domain.ItemStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// apply performs the flip for d. The update is conditional on the stored
// status, so a concurrent edit or a second caller turns it into a no-op.
func (t transitioner) apply(ctx context.Context, item domain.AuctionItem, d decision, trigger string) (bool, error) {
	var from, to domain.ItemStatus
	switch d {
	case decideActivate:
		from, to = domain.ItemStatusDraft, domain.ItemStatusActive
	case decideEnd:
		from, to = domain.ItemStatusActive, domain.ItemStatusEnded
	default:
		return false, nil
	}

	changed, err := t.items.TransitionStatus(ctx, item.ID, from, to)
	if err != nil {
		return false, fmt.Errorf("scheduler: transition %s %s->%s: %w", item.ID, from, to, err)
	}
	if !changed {
		return false, nil
	}

	t.logger.InfoContext(ctx, "item transitioned",
		slog.String("item_id", item.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("trigger", trigger),
	)
	if t.audit != nil {
		if err := t.audit.Log(ctx, "item.transitioned", map[string]any{
			"item_id": item.ID,
			"from":    string(from),
			"to":      string(to),
			"trigger": trigger,
		}); err != nil {
			t.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return true, nil
}
