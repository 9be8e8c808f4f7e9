package integration

import (
	"context"
	"time"

	"github.com/pulsedeck/backend/internal/domain/canonical"
)

// DefaultDedupTTL is how long a webhook delivery id is remembered. Providers
// redeliver within hours, not days.
const DefaultDedupTTL = 24 * time.Hour

// DeliveryDedup remembers webhook delivery ids for a bounded window so
// repeated deliveries can be dropped before reconciliation. It is best
// effort: a forgotten id only means the delivery is processed again, and the
// idempotent upsert absorbs that.
type DeliveryDedup interface {
	// Remember records a delivery id. It returns true when the id is new
	// and false when the same delivery was already seen within the TTL.
	Remember(ctx context.Context, provider canonical.SourceTool, deliveryID string, ttl time.Duration) (bool, error)

	// Close releases the store's resources
	Close() error
}
