package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nftwatch/internal/clock"
	"nftwatch/internal/model"
	"nftwatch/internal/storage"
)

// Registry is the in-memory query view over persisted subscriptions.
// Mutations are written to the store first and then applied to the index,
// so reads always reflect the latest committed change.
type Registry struct {
	store storage.Store
	clock clock.Clock

	// writeMu serializes mutations; mu guards the index.
	writeMu sync.Mutex
	mu      sync.RWMutex

	collections map[model.CollectionID]model.Collection
	subscribers map[model.CollectionID]map[int64]time.Time
	byUser      map[int64]map[model.CollectionID]time.Time
	prefs       map[int64]model.Preferences
}

// New loads the persisted state into a registry.
func New(ctx context.Context, store storage.Store, clk clock.Clock) (*Registry, error) {
	if clk == nil {
		clk = clock.System()
	}
	r := &Registry{
		store:       store,
		clock:       clk,
		collections: make(map[model.CollectionID]model.Collection),
		subscribers: make(map[model.CollectionID]map[int64]time.Time),
		byUser:      make(map[int64]map[model.CollectionID]time.Time),
		prefs:       make(map[int64]model.Preferences),
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	for _, c := range snap.Collections {
		r.collections[c.ID] = c
	}
	for _, sub := range snap.Subscriptions {
		if _, ok := r.collections[sub.Collection.ID]; !ok {
			continue
		}
		r.index(sub.UserID, sub.Collection.ID, sub.CreatedAt)
	}
	for user, p := range snap.Preferences {
		r.prefs[user] = p
	}
	return r, nil
}

func (r *Registry) index(user int64, id model.CollectionID, at time.Time) {
	subs, ok := r.subscribers[id]
	if !ok {
		subs = make(map[int64]time.Time)
		r.subscribers[id] = subs
	}
	subs[user] = at

	cols, ok := r.byUser[user]
	if !ok {
		cols = make(map[model.CollectionID]time.Time)
		r.byUser[user] = cols
	}
	cols[id] = at
}

// Subscribe tracks the collection if needed and subscribes the user to it.
// It reports false when the subscription already existed.
func (r *Registry) Subscribe(ctx context.Context, userID int64, collection model.Collection) (bool, error) {
	if collection.ID.Chain == "" || collection.ID.Marketplace == "" || collection.ID.Key == "" {
		return false, fmt.Errorf("invalid collection id: %q", collection.ID.String())
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	existing, tracked := r.collections[collection.ID]
	_, subscribed := r.subscribers[collection.ID][userID]
	r.mu.RUnlock()
	if subscribed {
		return false, nil
	}

	if tracked {
		collection = existing
	} else if err := r.store.SaveCollection(ctx, collection); err != nil {
		return false, fmt.Errorf("save collection: %w", err)
	}

	now := r.clock.Now().UTC()
	sub := model.Subscription{UserID: userID, Collection: collection, CreatedAt: now}
	if err := r.store.AddSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("add subscription: %w", err)
	}

	r.mu.Lock()
	r.collections[collection.ID] = collection
	r.index(userID, collection.ID, now)
	r.mu.Unlock()
	return true, nil
}

// Unsubscribe removes the pair. The collection stops being tracked once its
// last subscriber leaves. It reports false when no subscription existed.
func (r *Registry) Unsubscribe(ctx context.Context, userID int64, id model.CollectionID) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	_, subscribed := r.subscribers[id][userID]
	last := subscribed && len(r.subscribers[id]) == 1
	r.mu.RUnlock()
	if !subscribed {
		return false, nil
	}

	if err := r.store.RemoveSubscription(ctx, userID, id); err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	if last {
		if err := r.store.DeleteCollection(ctx, id); err != nil {
			return false, fmt.Errorf("delete collection: %w", err)
		}
	}

	r.mu.Lock()
	delete(r.subscribers[id], userID)
	delete(r.byUser[userID], id)
	if len(r.byUser[userID]) == 0 {
		delete(r.byUser, userID)
	}
	if last {
		delete(r.subscribers, id)
		delete(r.collections, id)
	}
	r.mu.Unlock()
	return true, nil
}

// SetPreferences persists and applies the user's preferences.
func (r *Registry) SetPreferences(ctx context.Context, userID int64, prefs model.Preferences) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.SavePreferences(ctx, userID, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	r.mu.Lock()
	r.prefs[userID] = prefs
	r.mu.Unlock()
	return nil
}

// SubscribersOf returns the subscribed user IDs in ascending order.
func (r *Registry) SubscribersOf(id model.CollectionID) []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.subscribers[id]))
	for user := range r.subscribers[id] {
		out = append(out, user)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PreferencesOf returns the user's preferences or the defaults.
func (r *Registry) PreferencesOf(userID int64) model.Preferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.prefs[userID]; ok {
		return p
	}
	return model.DefaultPreferences()
}

// ListCollections returns the user's collections in subscription order.
func (r *Registry) ListCollections(userID int64) []model.Collection {
	r.mu.RLock()
	type entry struct {
		collection model.Collection
		at         time.Time
	}
	entries := make([]entry, 0, len(r.byUser[userID]))
	for id, at := range r.byUser[userID] {
		entries = append(entries, entry{collection: r.collections[id], at: at})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].collection.ID.String() < entries[j].collection.ID.String()
		}
		return entries[i].at.Before(entries[j].at)
	})
	out := make([]model.Collection, len(entries))
	for i, e := range entries {
		out[i] = e.collection
	}
	return out
}

// TrackedCollections returns every collection with at least one subscriber,
// ordered by ID.
func (r *Registry) TrackedCollections() []model.Collection {
	r.mu.RLock()
	out := make([]model.Collection, 0, len(r.collections))
	for id, c := range r.collections {
		if len(r.subscribers[id]) > 0 {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Collection looks up a tracked collection.
func (r *Registry) Collection(id model.CollectionID) (model.Collection, bool) {
	r.mu.RLock()
	c, ok := r.collections[id]
	r.mu.RUnlock()
	return c, ok
}
