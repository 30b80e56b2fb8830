package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stats summarizes unpublished entries. Dead entries exhausted their attempts
// and are left for an operator.
type Stats struct {
	Pending int64
	Dead    int64
}

// Store persists outbox entries. Implementations must be safe for concurrent use.
type Store interface {
	// Append stores entries atomically.
	Append(ctx context.Context, entries ...*Entry) error

	// Claim returns up to limit pending entries with fewer than maxAttempts
	// attempts, oldest first. Claimed entries are hidden from other callers
	// until they are marked or the store's lease runs out.
	Claim(ctx context.Context, limit, maxAttempts int) ([]*Entry, error)

	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// MarkFailed releases the claim and records the attempt.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	Stats(ctx context.Context, maxAttempts int) (Stats, error)

	// Purge removes entries published before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
