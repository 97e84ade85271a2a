package storage

import (
	"context"

	"nftwatch/internal/model"
)

// Store persists collections, subscriptions and preferences.
// Implementations must make their own writes visible to subsequent reads.
type Store interface {
	SaveCollection(ctx context.Context, collection model.Collection) error
	DeleteCollection(ctx context.Context, id model.CollectionID) error
	AddSubscription(ctx context.Context, sub model.Subscription) error
	RemoveSubscription(ctx context.Context, userID int64, id model.CollectionID) error
	SavePreferences(ctx context.Context, userID int64, prefs model.Preferences) error
	LoadAll(ctx context.Context) (Snapshot, error)
	Close() error
}

// Snapshot is the full persisted state, loaded once at startup.
type Snapshot struct {
	Collections   []model.Collection
	Subscriptions []model.Subscription
	Preferences   map[int64]model.Preferences
}

// ParsePreferences decodes the persisted filter and cadence spellings.
func ParsePreferences(filter, cadence string) (model.Preferences, error) {
	f, err := model.ParseAlertFilter(filter)
	if err != nil {
		return model.Preferences{}, err
	}
	c, err := model.ParseCadence(cadence)
	if err != nil {
		return model.Preferences{}, err
	}
	return model.Preferences{Filter: f, Cadence: c}, nil
}
