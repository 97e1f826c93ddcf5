package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

// PushSubscriptionStore implements domain.PushSubscriptionStore using
// PostgreSQL.
type PushSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPushSubscriptionStore creates a new PushSubscriptionStore backed by the
// given connection pool.
func NewPushSubscriptionStore(pool *pgxpool.Pool) *PushSubscriptionStore {
	return &PushSubscriptionStore{pool: pool}
}

// Upsert registers an endpoint, moving it to the new bidder if it was
// registered before.
func (s *PushSubscriptionStore) Upsert(ctx context.Context, sub domain.PushSubscription) error {
	const query = `
		INSERT INTO push_subscriptions (endpoint, bidder_id, p256dh, auth, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (endpoint) DO UPDATE SET
			bidder_id = EXCLUDED.bidder_id,
			p256dh    = EXCLUDED.p256dh,
			auth      = EXCLUDED.auth`

	var createdAt any
	if !sub.CreatedAt.IsZero() {
		createdAt = sub.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query, sub.Endpoint, sub.BidderID, sub.Keys.P256dh, sub.Keys.Auth, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert push subscription: %w", err)
	}
	return nil
}

// Delete removes an endpoint. Unknown endpoints are not an error.
func (s *PushSubscriptionStore) Delete(ctx context.Context, endpoint string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint); err != nil {
		return fmt.Errorf("postgres: delete push subscription: %w", err)
	}
	return nil
}

// ListByBidder returns the bidder's endpoints, oldest first.
func (s *PushSubscriptionStore) ListByBidder(ctx context.Context, bidderID string) ([]domain.PushSubscription, error) {
	const query = `
		SELECT endpoint, bidder_id, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE bidder_id = $1
		ORDER BY created_at, endpoint`
	rows, err := s.pool.Query(ctx, query, bidderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list push subscriptions %s: %w", bidderID, err)
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.BidderID, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list push subscriptions rows: %w", err)
	}
	return subs, nil
}
