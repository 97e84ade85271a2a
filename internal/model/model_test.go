package model

import (
	"encoding/json"
	"testing"
)

func TestParseCollectionID(t *testing.T) {
	id, err := ParseCollectionID("Ethereum/OpenSea/boredapeyachtclub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := CollectionID{Chain: ChainEthereum, Marketplace: MarketplaceOpenSea, Key: "boredapeyachtclub"}
	if id != want {
		t.Fatalf("id mismatch: %+v != %+v", id, want)
	}
	if id.String() != "ethereum/opensea/boredapeyachtclub" {
		t.Fatalf("string mismatch: %s", id.String())
	}

	for _, input := range []string{"", "ethereum/opensea", "ethereum//key", "/opensea/key"} {
		if _, err := ParseCollectionID(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestAlertFilterAllows(t *testing.T) {
	cases := []struct {
		filter   AlertFilter
		sale     bool
		purchase bool
	}{
		{FilterAll, true, true},
		{FilterSales, true, false},
		{FilterPurchases, false, true},
	}
	for _, tc := range cases {
		if got := tc.filter.Allows(EventSale); got != tc.sale {
			t.Fatalf("%s allows sale = %v", tc.filter, got)
		}
		if got := tc.filter.Allows(EventPurchase); got != tc.purchase {
			t.Fatalf("%s allows purchase = %v", tc.filter, got)
		}
	}
}

func TestParsePreferences(t *testing.T) {
	for _, c := range []Cadence{CadenceInstant, CadenceTenMinutes, CadenceHourly} {
		parsed, err := ParseCadence(c.String())
		if err != nil || parsed != c {
			t.Fatalf("cadence %s parsed as %s (%v)", c, parsed, err)
		}
	}
	for _, f := range []AlertFilter{FilterAll, FilterSales, FilterPurchases} {
		parsed, err := ParseAlertFilter(f.String())
		if err != nil || parsed != f {
			t.Fatalf("filter %s parsed as %s (%v)", f, parsed, err)
		}
	}
	if _, err := ParseCadence("weekly"); err == nil {
		t.Fatalf("expected error for unknown cadence")
	}
	if _, err := ParseAlertFilter("mints"); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
	if DefaultPreferences() != (Preferences{Filter: FilterAll, Cadence: CadenceInstant}) {
		t.Fatalf("unexpected defaults: %+v", DefaultPreferences())
	}
}

func TestEventTypeJSON(t *testing.T) {
	data, err := json.Marshal(EventPurchase)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"purchase"` {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var decoded EventType
	if err := json.Unmarshal([]byte(`"sale"`), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != EventSale {
		t.Fatalf("decoded mismatch: %s", decoded)
	}
}
