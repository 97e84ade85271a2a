package dedup

import (
	"context"
	"time"

	"nftwatch/internal/model"
)

// Store remembers which event identifiers were already surfaced per collection.
// Records carry the event time so eviction can be bounded by the polling window.
type Store interface {
	IsNew(ctx context.Context, collection model.CollectionID, eventID string) (bool, error)
	MarkSeen(ctx context.Context, collection model.CollectionID, eventID string, eventTime time.Time) error
	Evict(ctx context.Context, before time.Time) (int, error)
}
