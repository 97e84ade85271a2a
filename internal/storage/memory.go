package storage

import (
	"context"
	"sort"
	"sync"

	"nftwatch/internal/model"
)

type subKey struct {
	user       int64
	collection model.CollectionID
}

// Memory is a non-durable Store used for dry runs and tests.
type Memory struct {
	mu            sync.Mutex
	collections   map[model.CollectionID]model.Collection
	subscriptions map[subKey]model.Subscription
	preferences   map[int64]model.Preferences
}

func NewMemory() *Memory {
	return &Memory{
		collections:   make(map[model.CollectionID]model.Collection),
		subscriptions: make(map[subKey]model.Subscription),
		preferences:   make(map[int64]model.Preferences),
	}
}

func (m *Memory) SaveCollection(_ context.Context, collection model.Collection) error {
	m.mu.Lock()
	m.collections[collection.ID] = collection
	m.mu.Unlock()
	return nil
}

// DeleteCollection removes the collection and its subscriptions.
func (m *Memory) DeleteCollection(_ context.Context, id model.CollectionID) error {
	m.mu.Lock()
	delete(m.collections, id)
	for key := range m.subscriptions {
		if key.collection == id {
			delete(m.subscriptions, key)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) AddSubscription(_ context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey{user: sub.UserID, collection: sub.Collection.ID}
	if _, ok := m.subscriptions[key]; !ok {
		m.subscriptions[key] = sub
	}
	return nil
}

func (m *Memory) RemoveSubscription(_ context.Context, userID int64, id model.CollectionID) error {
	m.mu.Lock()
	delete(m.subscriptions, subKey{user: userID, collection: id})
	m.mu.Unlock()
	return nil
}

func (m *Memory) SavePreferences(_ context.Context, userID int64, prefs model.Preferences) error {
	m.mu.Lock()
	m.preferences[userID] = prefs
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadAll(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Preferences: make(map[int64]model.Preferences, len(m.preferences))}
	for _, c := range m.collections {
		snap.Collections = append(snap.Collections, c)
	}
	for _, s := range m.subscriptions {
		if c, ok := m.collections[s.Collection.ID]; ok {
			s.Collection = c
		}
		snap.Subscriptions = append(snap.Subscriptions, s)
	}
	for user, prefs := range m.preferences {
		snap.Preferences[user] = prefs
	}

	sort.Slice(snap.Collections, func(i, j int) bool {
		return snap.Collections[i].ID.String() < snap.Collections[j].ID.String()
	})
	sort.Slice(snap.Subscriptions, func(i, j int) bool {
		return snap.Subscriptions[i].CreatedAt.Before(snap.Subscriptions[j].CreatedAt)
	})
	return snap, nil
}

func (m *Memory) Close() error { return nil }
