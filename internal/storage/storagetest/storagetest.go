// Package storagetest holds behavior checks shared by every storage.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"nftwatch/internal/model"
	"nftwatch/internal/storage"
)

// Run exercises the read-after-write contract of a Store.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	apes := model.Collection{ID: model.NewCollectionID("ethereum", "opensea", "bored-apes"), Name: "Bored Apes"}
	bears := model.Collection{ID: model.NewCollectionID("solana", "magiceden", "okay_bears")}

	for _, c := range []model.Collection{apes, bears} {
		if err := store.SaveCollection(ctx, c); err != nil {
			t.Fatalf("save collection: %v", err)
		}
	}
	subs := []model.Subscription{
		{UserID: 1, Collection: apes, CreatedAt: created},
		{UserID: 2, Collection: apes, CreatedAt: created.Add(time.Second)},
		{UserID: 2, Collection: bears, CreatedAt: created.Add(2 * time.Second)},
	}
	for _, sub := range subs {
		if err := store.AddSubscription(ctx, sub); err != nil {
			t.Fatalf("add subscription: %v", err)
		}
	}
	// Duplicate pairs are ignored.
	if err := store.AddSubscription(ctx, subs[0]); err != nil {
		t.Fatalf("add duplicate subscription: %v", err)
	}
	prefs := model.Preferences{Filter: model.FilterSales, Cadence: model.CadenceHourly}
	if err := store.SavePreferences(ctx, 2, prefs); err != nil {
		t.Fatalf("save preferences: %v", err)
	}

	snap, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(snap.Collections) != 2 {
		t.Fatalf("collections = %d, want 2", len(snap.Collections))
	}
	if len(snap.Subscriptions) != 3 {
		t.Fatalf("subscriptions = %d, want 3", len(snap.Subscriptions))
	}
	if snap.Subscriptions[0].UserID != 1 || snap.Subscriptions[0].Collection.Name != "Bored Apes" {
		t.Fatalf("unexpected first subscription: %+v", snap.Subscriptions[0])
	}
	if !snap.Subscriptions[0].CreatedAt.Equal(created) {
		t.Fatalf("created_at = %s", snap.Subscriptions[0].CreatedAt)
	}
	if snap.Preferences[2] != prefs {
		t.Fatalf("preferences = %+v", snap.Preferences[2])
	}

	if err := store.RemoveSubscription(ctx, 2, apes.ID); err != nil {
		t.Fatalf("remove subscription: %v", err)
	}
	if err := store.DeleteCollection(ctx, bears.ID); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	snap, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(snap.Collections) != 1 || snap.Collections[0].ID != apes.ID {
		t.Fatalf("collections after delete = %+v", snap.Collections)
	}
	if len(snap.Subscriptions) != 1 || snap.Subscriptions[0].UserID != 1 {
		t.Fatalf("subscriptions after delete = %+v", snap.Subscriptions)
	}
}
