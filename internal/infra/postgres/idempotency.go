package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// deliveryTTL is how long a processed webhook delivery ID is remembered.
const deliveryTTL = 24 * time.Hour

// DeliveryLedger records processed webhook delivery IDs so redelivered
// events are acknowledged without being re-enqueued.
type DeliveryLedger struct {
	pool *pgxpool.Pool
}

// NewDeliveryLedger creates a DeliveryLedger.
func NewDeliveryLedger(pool *pgxpool.Pool) *DeliveryLedger {
	return &DeliveryLedger{pool: pool}
}

// Migrate creates the delivery table.
func (l *DeliveryLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS webhook_deliveries (
		delivery_id text PRIMARY KEY,
		expires_at  timestamptz NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create delivery table: %w", err)
	}
	return nil
}

// Record claims a delivery ID. It returns true when the ID is new and
// false when it was already claimed, expiring stale entries as it goes.
func (l *DeliveryLedger) Record(ctx context.Context, deliveryID string) (bool, error) {
	if _, err := l.pool.Exec(ctx,
		`DELETE FROM webhook_deliveries WHERE expires_at < now()`); err != nil {
		return false, fmt.Errorf("failed to expire deliveries: %w", err)
	}

	tag, err := l.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, expires_at)
		 VALUES ($1, now() + make_interval(secs => $2))
		 ON CONFLICT (delivery_id) DO NOTHING`,
		deliveryID, deliveryTTL.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
