package events

import (
	"context"

	"nftwatch/internal/model"
)

// Sink receives newly surfaced events after dedup, one collection batch at a time.
type Sink interface {
	Publish(ctx context.Context, events []model.TransactionEvent) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, []model.TransactionEvent) error { return nil }

func (Nop) Close() error { return nil }
