package storage_test

import (
	"testing"

	"nftwatch/internal/storage"
	"nftwatch/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, storage.NewMemory())
}

func TestParsePreferences(t *testing.T) {
	if _, err := storage.ParsePreferences("sales", "weekly"); err == nil {
		t.Fatalf("expected error for unknown cadence")
	}
	prefs, err := storage.ParsePreferences("purchases", "10min")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefs.Filter.String() != "purchases" || prefs.Cadence.String() != "10min" {
		t.Fatalf("unexpected preferences: %+v", prefs)
	}
}
