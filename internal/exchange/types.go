package exchange

import "context"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SymbolFilters is the per-symbol lot constraint snapshot from exchangeInfo.
// Values stay as the exchange's decimal strings; parsing happens at
// normalization time so a malformed filter degrades instead of failing.
type SymbolFilters struct {
	StepSize string
	MinQty   string
}

type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        Side
	ExecutedQty float64
	AvgPrice    float64
}

// PositionSnapshot is the exchange-reported exposure. SignedQty is positive
// for longs and negative for shorts.
type PositionSnapshot struct {
	Symbol    string
	SignedQty float64
}

// Client is the capability surface one account needs for a hedge cycle.
// GetPosition reports ok=false when the exchange view is unknown; callers
// fall back to their locally tracked quantity. The error, when present,
// classifies why the view is unknown.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, notionalUSD float64) (OrderResult, error)
	CloseMarket(ctx context.Context, symbol string, openSide Side, qty float64) (OrderResult, error)
	GetPosition(ctx context.Context, symbol string) (PositionSnapshot, bool, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType string) error
}
