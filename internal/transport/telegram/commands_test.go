package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nftwatch/internal/clock"
	"nftwatch/internal/model"
	"nftwatch/internal/registry"
	"nftwatch/internal/source"
	"nftwatch/internal/storage"
)

func newCommands(t *testing.T) (*Commands, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(context.Background(), storage.NewMemory(), clock.NewFake(time.Unix(1714563000, 0)))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	routes := source.NewRegistry()
	routes.Register(model.ChainSolana, model.MarketplaceMagicEden, source.NewMagicEden(source.MagicEdenConfig{}))
	routes.Register(model.ChainEthereum, model.MarketplaceOnchain, source.NewOnchain(nil, source.OnchainConfig{Chain: model.ChainEthereum}))
	return NewCommands(reg, routes, nil), reg
}

func TestAddListRemove(t *testing.T) {
	ctx := context.Background()
	cmds, reg := newCommands(t)

	reply := cmds.Handle(ctx, 1, "/add", []string{"solana", "magiceden", "okay_bears", "Okay", "Bears"})
	if !strings.Contains(reply, "Now tracking Okay Bears") {
		t.Fatalf("add reply = %q", reply)
	}
	reply = cmds.Handle(ctx, 1, "add", []string{"solana", "magiceden", "okay_bears"})
	if !strings.Contains(reply, "already tracking") {
		t.Fatalf("duplicate add reply = %q", reply)
	}
	if got := reg.SubscribersOf(model.NewCollectionID("solana", "magiceden", "okay_bears")); len(got) != 1 {
		t.Fatalf("subscribers = %v", got)
	}

	reply = cmds.Handle(ctx, 1, "list", nil)
	if !strings.Contains(reply, "1. Okay Bears (magiceden on solana)") {
		t.Fatalf("list reply = %q", reply)
	}

	reply = cmds.Handle(ctx, 1, "remove", []string{"1"})
	if !strings.Contains(reply, "Stopped tracking solana/magiceden/okay_bears") {
		t.Fatalf("remove reply = %q", reply)
	}
	if len(reg.TrackedCollections()) != 0 {
		t.Fatalf("collection should be untracked")
	}
}

func TestAddRejectsUnsupportedAndInvalid(t *testing.T) {
	ctx := context.Background()
	cmds, reg := newCommands(t)

	reply := cmds.Handle(ctx, 1, "add", []string{"ethereum", "blur", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"})
	if !strings.Contains(reply, "not supported") || !strings.Contains(reply, "ethereum onchain") {
		t.Fatalf("unsupported reply = %q", reply)
	}
	reply = cmds.Handle(ctx, 1, "add", []string{"ethereum", "onchain", "0x1234"})
	if !strings.Contains(reply, "Invalid collection identifier") {
		t.Fatalf("invalid reply = %q", reply)
	}
	reply = cmds.Handle(ctx, 1, "add", []string{"solana"})
	if !strings.HasPrefix(reply, "Usage: /add") {
		t.Fatalf("usage reply = %q", reply)
	}
	if len(reg.TrackedCollections()) != 0 {
		t.Fatalf("nothing should be tracked")
	}
}

func TestPreferenceCommands(t *testing.T) {
	ctx := context.Background()
	cmds, reg := newCommands(t)

	if reply := cmds.Handle(ctx, 5, "alerts", []string{"sales"}); !strings.Contains(reply, "Sales only") {
		t.Fatalf("alerts reply = %q", reply)
	}
	if reply := cmds.Handle(ctx, 5, "cadence", []string{"hourly"}); !strings.Contains(reply, "Hourly") {
		t.Fatalf("cadence reply = %q", reply)
	}
	want := model.Preferences{Filter: model.FilterSales, Cadence: model.CadenceHourly}
	if got := reg.PreferencesOf(5); got != want {
		t.Fatalf("preferences = %+v", got)
	}
	if reply := cmds.Handle(ctx, 5, "cadence", []string{"weekly"}); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("bad cadence reply = %q", reply)
	}
	reply := cmds.Handle(ctx, 5, "settings", nil)
	if !strings.Contains(reply, "Sales only") || !strings.Contains(reply, "Hourly updates") {
		t.Fatalf("settings reply = %q", reply)
	}
}

type brokenRegistry struct {
	Registry
}

func (brokenRegistry) Subscribe(context.Context, int64, model.Collection) (bool, error) {
	return false, errors.New("db down")
}

func TestAddReportsStoreFailure(t *testing.T) {
	cmds, reg := newCommands(t)
	cmds.registry = brokenRegistry{reg}
	reply := cmds.Handle(context.Background(), 1, "add", []string{"solana", "magiceden", "okay_bears"})
	if !strings.Contains(reply, "Could not save") {
		t.Fatalf("reply = %q", reply)
	}
}

type namingRoutes struct {
	*source.Registry
}

func (namingRoutes) ResolveName(context.Context, model.CollectionID) (string, error) {
	return "BoredApeYachtClub", nil
}

func TestAddResolvesMissingName(t *testing.T) {
	ctx := context.Background()
	cmds, reg := newCommands(t)
	cmds.routes = namingRoutes{cmds.routes.(*source.Registry)}

	reply := cmds.Handle(ctx, 1, "add", []string{"ethereum", "onchain", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"})
	if !strings.Contains(reply, "Now tracking BoredApeYachtClub") {
		t.Fatalf("add reply = %q", reply)
	}
	got := reg.ListCollections(1)
	if len(got) != 1 || got[0].Name != "BoredApeYachtClub" {
		t.Fatalf("collections = %+v", got)
	}
}

func TestAddCanonicalizesContractAddress(t *testing.T) {
	ctx := context.Background()
	cmds, reg := newCommands(t)

	checksum := "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"
	if reply := cmds.Handle(ctx, 1, "add", []string{"ethereum", "onchain", strings.ToLower(checksum)}); !strings.Contains(reply, "Now tracking") {
		t.Fatalf("add reply = %q", reply)
	}
	if reply := cmds.Handle(ctx, 1, "add", []string{"ethereum", "onchain", checksum}); !strings.Contains(reply, "already tracking") {
		t.Fatalf("second spelling reply = %q", reply)
	}

	tracked := reg.TrackedCollections()
	if len(tracked) != 1 || tracked[0].ID != model.NewCollectionID("ethereum", "onchain", checksum) {
		t.Fatalf("tracked = %+v", tracked)
	}
	if n := len(reg.ListCollections(1)); n != 1 {
		t.Fatalf("list = %d collections, want 1", n)
	}

	if reply := cmds.Handle(ctx, 1, "remove", []string{"ethereum", "onchain", strings.ToLower(checksum)}); !strings.Contains(reply, "Stopped tracking") {
		t.Fatalf("remove reply = %q", reply)
	}
}
