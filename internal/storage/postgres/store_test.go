package postgres

import (
	"context"
	"os"
	"testing"

	"nftwatch/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("NFTWATCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NFTWATCH_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	for _, table := range []string{"subscriptions", "preferences", "collections"} {
		if _, err := store.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	storagetest.Run(t, store)
}
