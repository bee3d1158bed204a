package exchange

import (
	"context"
	"errors"
	"testing"
)

func TestParseSymbolFiltersPrefersMarketLotSize(t *testing.T) {
	body := []byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
		{"filterType":"LOT_SIZE","stepSize":"0.00100000","minQty":"0.00100000"},
		{"filterType":"MARKET_LOT_SIZE","stepSize":"0.01000000","minQty":"0.01000000"},
		{"filterType":"PRICE_FILTER","stepSize":""}
	]}]}`)
	got := parseSymbolFilters(body, "BTCUSDT")
	if got.StepSize != "0.01000000" || got.MinQty != "0.01000000" {
		t.Fatalf("expected market lot filter, got %+v", got)
	}
}

func TestParseSymbolFiltersFallsBackToLotSize(t *testing.T) {
	body := []byte(`{"symbols":[{"symbol":"ETHUSDT","filters":[
		{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}
	]}]}`)
	got := parseSymbolFilters(body, "ETHUSDT")
	if got.StepSize != "0.001" {
		t.Fatalf("expected lot filter, got %+v", got)
	}
}

func TestParseSymbolFiltersUnknownSymbol(t *testing.T) {
	body := []byte(`{"symbols":[{"symbol":"ETHUSDT","filters":[]}]}`)
	if got := parseSymbolFilters(body, "BTCUSDT"); got != (SymbolFilters{}) {
		t.Fatalf("expected empty filters, got %+v", got)
	}
}

func TestFilterCacheCachesFailures(t *testing.T) {
	cache := newFilterCache()
	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("down")
	}
	first := cache.lookup(context.Background(), "BTCUSDT", fetch)
	second := cache.lookup(context.Background(), "BTCUSDT", fetch)
	if first != (SymbolFilters{}) || second != (SymbolFilters{}) {
		t.Fatalf("expected empty filters on failure")
	}
	if calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}
