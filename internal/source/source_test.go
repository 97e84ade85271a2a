package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"nftwatch/internal/clock"
	"nftwatch/internal/model"
)

func openSeaCollection() model.Collection {
	return model.Collection{ID: model.NewCollectionID("ethereum", "opensea", "bored-apes"), Name: "Bored Apes"}
}

func TestOpenSeaFetch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var gotPath, gotKey, gotAfter, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-KEY")
		gotAfter = r.URL.Query().Get("after")
		gotType = r.URL.Query().Get("event_type")
		_, _ = w.Write([]byte(`{"asset_events":[{"id":"new"},{"id":"old"}],"next":""}`))
	}))
	defer srv.Close()

	adapter := NewOpenSea(OpenSeaConfig{
		BaseURL:  srv.URL,
		APIKey:   "secret",
		Lookback: 30 * time.Minute,
		Clock:    clock.NewFake(now),
	})
	raws, err := adapter.Fetch(context.Background(), openSeaCollection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/events/collection/bored-apes" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotKey != "secret" || gotType != "sale" {
		t.Fatalf("header/query mismatch: key=%q type=%q", gotKey, gotType)
	}
	if gotAfter != "1714563000" {
		t.Fatalf("after = %s", gotAfter)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d raws, want 2", len(raws))
	}
	if string(raws[0].Payload) != `{"id":"old"}` || raws[0].Source != SourceOpenSea {
		t.Fatalf("expected oldest first, got %s", raws[0].Payload)
	}
}

func TestOpenSeaMissingEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	defer srv.Close()

	_, err := NewOpenSea(OpenSeaConfig{BaseURL: srv.URL}).Fetch(context.Background(), openSeaCollection())
	assertKind(t, err, FetchMalformed)
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenSea(OpenSeaConfig{BaseURL: srv.URL}).Fetch(context.Background(), openSeaCollection())
	fe := assertKind(t, err, FetchRateLimited)
	if fe.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %s", fe.RetryAfter)
	}
	if !IsRateLimited(err) {
		t.Fatalf("expected IsRateLimited")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewMagicEden(MagicEdenConfig{BaseURL: srv.URL}).Fetch(context.Background(), magicEdenCollection())
	fe := assertKind(t, err, FetchNetwork)
	if fe.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", fe.StatusCode)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewMagicEden(MagicEdenConfig{BaseURL: srv.URL}).Fetch(ctx, magicEdenCollection())
	assertKind(t, err, FetchTimeout)
}

func magicEdenCollection() model.Collection {
	return model.Collection{ID: model.NewCollectionID("solana", "magiceden", "okay_bears")}
}

func TestMagicEdenFetch(t *testing.T) {
	var gotPath, gotLimit, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[{"signature":"b"},{"signature":"a"}]`))
	}))
	defer srv.Close()

	adapter := NewMagicEden(MagicEdenConfig{BaseURL: srv.URL, APIKey: "k", Limit: 20})
	raws, err := adapter.Fetch(context.Background(), magicEdenCollection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/collections/okay_bears/activities" || gotLimit != "20" || gotAuth != "Bearer k" {
		t.Fatalf("request mismatch: path=%s limit=%s auth=%s", gotPath, gotLimit, gotAuth)
	}
	got := []string{string(raws[0].Payload), string(raws[1].Payload)}
	want := []string{`{"signature":"a"}`, `{"signature":"b"}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("payloads mismatch: %v != %v", got, want)
	}
}

func TestMagicEdenMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"not an array"}`))
	}))
	defer srv.Close()

	_, err := NewMagicEden(MagicEdenConfig{BaseURL: srv.URL}).Fetch(context.Background(), magicEdenCollection())
	assertKind(t, err, FetchMalformed)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(model.ChainSolana, model.MarketplaceMagicEden, NewMagicEden(MagicEdenConfig{}))

	if !reg.Supported(model.ChainSolana, model.MarketplaceMagicEden) {
		t.Fatalf("expected solana/magiceden to be supported")
	}

	_, err := reg.Lookup(model.NewCollectionID("ethereum", "blur", "x"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Chain != model.ChainEthereum || cfgErr.Marketplace != model.MarketplaceBlur {
		t.Fatalf("unexpected route: %+v", cfgErr)
	}

	if err := reg.ValidateKey(model.NewCollectionID("solana", "magiceden", "okay_bears")); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := reg.ValidateKey(model.NewCollectionID("solana", "magiceden", "bad key!")); err == nil {
		t.Fatalf("expected validation error")
	}

	if got := reg.Routes(); !reflect.DeepEqual(got, []string{"solana/magiceden"}) {
		t.Fatalf("routes = %v", got)
	}
}

func TestValidators(t *testing.T) {
	if _, err := ParseContractAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"); err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	for _, bad := range []string{"", "BC4CA0EdA7647A8aB7C2061c2E118A18a936f13D", "0x1234"} {
		if _, err := ParseContractAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	for _, good := range []string{"okay_bears", "mad-lads", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"} {
		if err := ValidateSolanaKey(good); err != nil {
			t.Fatalf("unexpected error for %q: %v", good, err)
		}
	}
	for _, bad := range []string{"", "has space", "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIlzz"} {
		if err := ValidateSolanaKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	sea := NewOpenSea(OpenSeaConfig{})
	if err := sea.ValidateKey("boredapeyachtclub"); err != nil {
		t.Fatalf("unexpected slug error: %v", err)
	}
	if err := sea.ValidateKey("Bored Apes"); err == nil {
		t.Fatalf("expected slug error")
	}
}

func TestSplitBlocks(t *testing.T) {
	got, err := splitBlocks(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []blockRange{{From: 100, To: 101}, {From: 102, To: 103}, {From: 104, To: 105}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}

	if _, err := splitBlocks(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := splitBlocks(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
	if got := lookbackStart(50, 300); got != 0 {
		t.Fatalf("lookback start = %d, want 0", got)
	}
	if got := lookbackStart(1000, 300); got != 701 {
		t.Fatalf("lookback start = %d, want 701", got)
	}
}

func assertKind(t *testing.T, err error, kind FetchErrorKind) *FetchError {
	t.Helper()
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != kind {
		t.Fatalf("kind = %s, want %s (%v)", fe.Kind, kind, err)
	}
	return fe
}
