package exchange

import (
	"context"
	"encoding/json"
	"sync"
)

// filterCache memoizes SymbolFilters per symbol for the process lifetime.
// Filter changes on the exchange require a restart; re-fetching per order
// would put exchangeInfo on the hot path for no benefit. A failed fetch is
// cached too, degrading that symbol to the default step.
type filterCache struct {
	mu      sync.Mutex
	filters map[string]SymbolFilters
}

func newFilterCache() *filterCache {
	return &filterCache{filters: make(map[string]SymbolFilters)}
}

func (c *filterCache) lookup(ctx context.Context, symbol string, fetch func(ctx context.Context) ([]byte, error)) SymbolFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.filters[symbol]; ok {
		return f
	}
	var f SymbolFilters
	if body, err := fetch(ctx); err == nil {
		f = parseSymbolFilters(body, symbol)
	}
	c.filters[symbol] = f
	return f
}

type exchangeInfoFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
}

type exchangeInfoSymbol struct {
	Symbol  string               `json:"symbol"`
	Filters []exchangeInfoFilter `json:"filters"`
}

type exchangeInfo struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

// parseSymbolFilters scans the full exchangeInfo payload for one symbol's lot
// filter. MARKET_LOT_SIZE wins over LOT_SIZE when both are present since
// every order this bot sends is a market order.
func parseSymbolFilters(body []byte, symbol string) SymbolFilters {
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolFilters{}
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var lot, marketLot *exchangeInfoFilter
		for i := range s.Filters {
			switch s.Filters[i].FilterType {
			case "MARKET_LOT_SIZE":
				marketLot = &s.Filters[i]
			case "LOT_SIZE":
				lot = &s.Filters[i]
			}
		}
		chosen := marketLot
		if chosen == nil {
			chosen = lot
		}
		if chosen == nil {
			return SymbolFilters{}
		}
		return SymbolFilters{StepSize: chosen.StepSize, MinQty: chosen.MinQty}
	}
	return SymbolFilters{}
}
